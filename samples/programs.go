package samples

import "github.com/colorfulnotion/jnisym/program"

// Machine code of the native functions. Every JNI function receives the
// env in rdi, the class in rsi and its arguments from rdx on.
var (
	// mov rax, [rdi]; call [rax+0x20]; ret
	codeGetVersion = []byte{0x48, 0x8b, 0x07, 0xff, 0x50, 0x20, 0xc3}
	// mov rax, rdx; ret
	codeIdentity = []byte{0x48, 0x89, 0xd0, 0xc3}
	// lea eax, [rdx+1]; ret
	codeIncrement = []byte{0x8d, 0x42, 0x01, 0xc3}
	// push rbx; mov rbx, rdi; mov esi, 5; mov rax, [rbx]
	// call [rax+0x598] (NewIntArray); pop rbx; ret
	codeNewArray = []byte{
		0x53, 0x48, 0x89, 0xfb, 0xbe, 0x05, 0x00, 0x00, 0x00, 0x48, 0x8b, 0x03,
		0xff, 0x90, 0x98, 0x05, 0x00, 0x00, 0x5b, 0xc3,
	}
	// mov rsi, rdx; mov rax, [rdi]; jmp [rax+0x558] (GetArrayLength)
	codeLength = []byte{0x48, 0x89, 0xd6, 0x48, 0x8b, 0x07, 0xff, 0xa0, 0x58, 0x05, 0x00, 0x00}
	// borrow the elements of an int[5], swap them end for end, release
	codeReverse = []byte{
		0x53, 0x41, 0x54, 0x48, 0x89, 0xfb, 0x49, 0x89, 0xd4, 0x48, 0x89, 0xd6,
		0x31, 0xd2, 0x48, 0x8b, 0x03, 0xff, 0x90, 0xd8, 0x05, 0x00, 0x00, // GetIntArrayElements
		0x8b, 0x08, 0x8b, 0x50, 0x10, 0x89, 0x10, 0x89, 0x48, 0x10,
		0x8b, 0x48, 0x04, 0x8b, 0x50, 0x0c, 0x89, 0x50, 0x04, 0x89, 0x48, 0x0c,
		0x48, 0x89, 0xdf, 0x4c, 0x89, 0xe6, 0x48, 0x89, 0xc2, 0x31, 0xc9,
		0x48, 0x8b, 0x03, 0xff, 0x90, 0x18, 0x06, 0x00, 0x00, // ReleaseIntArrayElements
		0x41, 0x5c, 0x5b, 0xc3,
	}
	// borrow the elements and return without releasing them
	codeLeak = []byte{
		0x53, 0x48, 0x89, 0xfb, 0x48, 0x89, 0xd6, 0x31, 0xd2, 0x48, 0x8b, 0x03,
		0xff, 0x90, 0xd8, 0x05, 0x00, 0x00, 0x5b, 0x31, 0xc0, 0xc3,
	}
	// cmp edx, 'A'; jne lose; mov eax, 1; ret; lose: xor eax, eax; ret
	codeCheck = []byte{
		0x83, 0xfa, 0x41, 0x75, 0x06, 0xb8, 0x01, 0x00, 0x00, 0x00, 0xc3,
		0x31, 0xc0, 0xc3,
	}
	// GetIntArrayRegion(arr, idx, 2, rsp) into the stack; return the sum
	codeRegionSum = []byte{
		0x48, 0x83, 0xec, 0x10, 0x48, 0x89, 0xd6, 0x89, 0xca, 0xb9, 0x02, 0x00,
		0x00, 0x00, 0x49, 0x89, 0xe0, 0x48, 0x8b, 0x07, 0xff, 0x90, 0x58, 0x06,
		0x00, 0x00, 0x8b, 0x04, 0x24, 0x03, 0x44, 0x24, 0x04, 0x48, 0x83, 0xc4,
		0x10, 0xc3,
	}
	// SetIntArrayRegion(arr, idx, 1, {7})
	codeSetOne = []byte{
		0x48, 0x83, 0xec, 0x08, 0xc7, 0x04, 0x24, 0x07, 0x00, 0x00, 0x00, 0x48,
		0x89, 0xd6, 0x89, 0xca, 0xb9, 0x01, 0x00, 0x00, 0x00, 0x49, 0x89, 0xe0,
		0x48, 0x8b, 0x07, 0xff, 0x90, 0x98, 0x06, 0x00, 0x00, 0x48, 0x83, 0xc4,
		0x08, 0xc3,
	}
	// borrow an int[] and return elems[idx] (idx in rcx), releasing with
	// JNI_ABORT
	codePeek = []byte{
		0x53, 0x41, 0x54, 0x41, 0x55, 0x48, 0x89, 0xfb, 0x49, 0x89, 0xd4, 0x41,
		0x89, 0xcd, 0x48, 0x89, 0xd6, 0x31, 0xd2, 0x48, 0x8b, 0x03,
		0xff, 0x90, 0xd8, 0x05, 0x00, 0x00, // GetIntArrayElements
		0x42, 0x8b, 0x0c, 0xa8, 0x41, 0x89, 0xcd,
		0x48, 0x89, 0xdf, 0x4c, 0x89, 0xe6, 0x48, 0x89, 0xc2, 0xb9, 0x02, 0x00,
		0x00, 0x00, 0x48, 0x8b, 0x03,
		0xff, 0x90, 0x18, 0x06, 0x00, 0x00, // ReleaseIntArrayElements
		0x44, 0x89, 0xe8, 0x41, 0x5d, 0x41, 0x5c, 0x5b, 0xc3,
	}
	// pshufb xmm1, xmm2; hlt
	codePshufb = []byte{0x66, 0x0f, 0x38, 0x00, 0xca, 0xf4}
	// pmulhw xmm1, xmm2; hlt
	codePmulhw = []byte{0x66, 0x0f, 0xe5, 0xca, 0xf4}
)

// JNI function table indices of the Boolean members of the typed
// element families; the other element types follow in table order.
const (
	jniGetBooleanArrayElements     = 183
	jniReleaseBooleanArrayElements = 191
)

// elementTypes is the table order of the typed families.
var elementTypes = []program.Type{program.Boolean, program.Byte, program.Char, program.Short, program.Int, program.Long}

func tableCall(slot int) []byte {
	d := uint32(slot * 8)
	return []byte{0xff, 0x90, byte(d), byte(d >> 8), byte(d >> 16), byte(d >> 24)}
}

// codeTouch borrows the one element array in rdx, applies op to the
// element at [rax] and releases it with mode.
func codeTouch(family int, op []byte, mode byte) []byte {
	code := []byte{
		0x53, 0x41, 0x54, 0x48, 0x89, 0xfb, 0x49, 0x89, 0xd4, 0x48, 0x89, 0xd6,
		0x31, 0xd2, 0x48, 0x8b, 0x03,
	}
	code = append(code, tableCall(jniGetBooleanArrayElements+family)...)
	code = append(code, op...)
	code = append(code,
		0x48, 0x89, 0xdf, 0x4c, 0x89, 0xe6, 0x48, 0x89, 0xc2, 0xb9, mode, 0x00,
		0x00, 0x00, 0x48, 0x8b, 0x03,
	)
	code = append(code, tableCall(jniReleaseBooleanArrayElements+family)...)
	return append(code, 0x41, 0x5c, 0x5b, 0xc3)
}

// incrementOps step the first element by one at its natural width; the
// boolean one sets it instead.
var incrementOps = map[program.Type][]byte{
	program.Boolean: {0x80, 0x08, 0x01},       // or byte [rax], 1
	program.Byte:    {0x80, 0x00, 0x01},       // add byte [rax], 1
	program.Char:    {0x66, 0x83, 0x00, 0x01}, // add word [rax], 1
	program.Short:   {0x66, 0x83, 0x00, 0x01},
	program.Int:     {0x83, 0x00, 0x01},       // add dword [rax], 1
	program.Long:    {0x48, 0x83, 0x00, 0x01}, // add qword [rax], 1
}

func param(name string, t program.Type) program.Param { return program.Param{Name: name, Type: t} }

func init() {
	register(Sample{
		Name:  "getversion",
		Doc:   "native code calls JNIEnv->GetVersion",
		Entry: "Test.main",
		build: func() *program.Builder {
			b := program.NewBuilder().
				Method(method("Test.main", nil, []program.Stmt{
					call("v", "Test.getVersion"),
					program.Return{},
				})).
				Native("Test.getVersion", program.Int)
			return new(library).fn("Test.getVersion", codeGetVersion...).load(b)
		},
	})

	register(Sample{
		Name:  "primitives",
		Doc:   "primitive values survive a round trip through native code",
		Entry: "Test.main",
		build: func() *program.Builder {
			types := []struct {
				name string
				t    program.Type
				arg  program.Const
			}{
				{"Test.idBoolean", program.Boolean, program.Z(true)},
				{"Test.idByte", program.Byte, program.Const{Type: program.Byte, V: -128}},
				{"Test.idChar", program.Char, program.Const{Type: program.Char, V: 0xffff}},
				{"Test.idShort", program.Short, program.Const{Type: program.Short, V: -32768}},
				{"Test.idInt", program.Int, i(-2147483648)},
				{"Test.idLong", program.Long, program.L(-1)},
			}
			b := program.NewBuilder()
			l := new(library)
			var body []program.Stmt
			for n, ty := range types {
				b.Native(ty.name, ty.t, ty.t)
				l.fn(ty.name, codeIdentity...)
				body = append(body, call(string(rune('a'+n)), ty.name, ty.arg))
			}
			body = append(body, call("inc", "Test.increment", program.Const{Type: program.Byte, V: 0x7f}))
			b.Native("Test.increment", program.Byte, program.Byte)
			l.fn("Test.increment", codeIncrement...)
			body = append(body, program.Return{})
			b.Method(method("Test.main", nil, body)).Entry("Test.main")
			return l.load(b)
		},
	})

	register(Sample{
		Name:  "arrays",
		Doc:   "native code creates an array and reads the length of another",
		Entry: "Test.main",
		build: func() *program.Builder {
			b := program.NewBuilder().
				Method(method("Test.main", nil, []program.Stmt{
					call("made", "Test.newArray"),
					program.Assign{Dst: "n", Src: program.ArrayLength{Array: v("made")}},
					program.Assign{Dst: "arr", Src: program.NewArray{Elem: program.Int, Length: i(7)}},
					call("m", "Test.length", v("arr")),
					program.Return{},
				})).
				Native("Test.newArray", program.Ref).
				Native("Test.length", program.Int, program.Ref)
			return new(library).
				fn("Test.newArray", codeNewArray...).
				fn("Test.length", codeLength...).
				load(b)
		},
	})

	register(Sample{
		Name:  "reverse",
		Doc:   "native code borrows an int[5], reverses it in place and releases it",
		Entry: "Test.main",
		build: func() *program.Builder {
			body := []program.Stmt{
				program.Assign{Dst: "arr", Src: program.NewArray{Elem: program.Int, Length: i(5)}},
			}
			for k := int32(0); k < 5; k++ {
				body = append(body, program.ArrayStore{Array: v("arr"), Index: i(k), Src: i(k)})
			}
			body = append(body, call("", "Test.reverse", v("arr")))
			for k := int32(0); k < 5; k++ {
				body = append(body, program.Assign{
					Dst: string(rune('a' + k)),
					Src: program.ArrayRef{Array: v("arr"), Index: i(k)},
				})
			}
			body = append(body, program.Return{})
			b := program.NewBuilder().
				Method(method("Test.main", nil, body)).
				Native("Test.reverse", program.Void, program.Ref)
			return new(library).fn("Test.reverse", codeReverse...).load(b)
		},
	})

	register(Sample{
		Name:  "leak",
		Doc:   "native code returns without releasing borrowed elements",
		Entry: "Test.main",
		build: func() *program.Builder {
			b := program.NewBuilder().
				Method(method("Test.main", nil, []program.Stmt{
					program.Assign{Dst: "arr", Src: program.NewArray{Elem: program.Int, Length: i(3)}},
					call("", "Test.leak", v("arr")),
					program.Return{},
				})).
				Native("Test.leak", program.Void, program.Ref)
			return new(library).fn("Test.leak", codeLeak...).load(b)
		},
	})

	register(Sample{
		Name:  "tailleak",
		Doc:   "the leaking native call is the last statement of main",
		Entry: "Test.main",
		build: func() *program.Builder {
			b := program.NewBuilder().
				Method(method("Test.main", nil, []program.Stmt{
					program.Assign{Dst: "arr", Src: program.NewArray{Elem: program.Int, Length: i(3)}},
					call("", "Test.leak", v("arr")),
				})).
				Native("Test.leak", program.Void, program.Ref)
			return new(library).fn("Test.leak", codeLeak...).load(b)
		},
	})

	register(Sample{
		Name:  "elements",
		Doc:   "every primitive element type through Get/Release<T>ArrayElements, aborted then committed",
		Entry: "Test.main",
		build: func() *program.Builder {
			inits := []program.Const{
				program.Z(true),
				{Type: program.Byte, V: 0x7f},
				{Type: program.Char, V: 0xffff},
				{Type: program.Short, V: 0x7fff},
				i(0x7fffffff),
				program.L(0x7fffffffffffffff),
			}
			before := []string{"z1", "b5", "c9", "s6", "i7", "l8"}
			after := []string{"z2", "b10", "c14", "s11", "i12", "l13"}
			b := program.NewBuilder()
			l := new(library)
			var body, tries, bumps, reads1, reads2 []program.Stmt
			for k, t := range elementTypes {
				arr := "arr" + before[k]
				name := typeName(t)
				body = append(body,
					program.Assign{Dst: arr, Src: program.NewArray{Elem: t, Length: i(1)}},
					program.ArrayStore{Array: v(arr), Index: i(0), Src: inits[k]},
				)
				try, bump := "Test.try"+name, "Test.bump"+name
				b.Native(try, program.Void, program.Ref).Native(bump, program.Void, program.Ref)
				l.fn(try, codeTouch(k, incrementOps[t], 2)...)
				l.fn(bump, codeTouch(k, incrementOps[t], 0)...)
				tries = append(tries, call("", try, v(arr)))
				bumps = append(bumps, call("", bump, v(arr)))
				reads1 = append(reads1, program.Assign{Dst: before[k], Src: program.ArrayRef{Array: v(arr), Index: i(0)}})
				reads2 = append(reads2, program.Assign{Dst: after[k], Src: program.ArrayRef{Array: v(arr), Index: i(0)}})
			}
			body = append(body, tries...)
			body = append(body, reads1...)
			body = append(body, bumps...)
			body = append(body, reads2...)
			body = append(body, program.Return{})
			b.Method(method("Test.main", nil, body))
			return l.load(b)
		},
	})

	register(Sample{
		Name:  "lengths",
		Doc:   "native GetArrayLength of a concrete and a stdin sized array",
		Entry: "Test.main",
		build: func() *program.Builder {
			b := program.NewBuilder().
				Method(method("Test.main", nil, []program.Stmt{
					program.Assign{Dst: "a", Src: program.NewArray{Elem: program.Int, Length: i(10)}},
					call("i3", "Test.length", v("a")),
					program.Assign{Dst: "c", Src: program.ReadStdin{}},
					program.Assign{Dst: "b", Src: program.NewArray{Elem: program.Int, Length: v("c")}},
					call("i4", "Test.length", v("b")),
					program.Return{},
				})).
				Native("Test.length", program.Int, program.Ref)
			return new(library).fn("Test.length", codeLength...).load(b)
		},
	})

	register(Sample{
		Name:  "symborrow",
		Doc:   "native code borrows an array whose length comes from stdin and reads a stdin index",
		Entry: "Test.main",
		Win:   'W',
		build: func() *program.Builder {
			main := method("Test.main", nil,
				[]program.Stmt{
					program.Assign{Dst: "idx", Src: program.ReadStdin{}},
					program.Assign{Dst: "len", Src: program.ReadStdin{}},
					program.Assign{Dst: "arr", Src: program.NewArray{Elem: program.Int, Length: v("len")}},
					program.ArrayStore{Array: v("arr"), Index: i(223), Src: i(1)},
					program.Assign{Dst: "n", Src: program.ArrayLength{Array: v("arr")}},
					program.If{Cond: program.Cmp{Op: program.CmpGe, A: v("idx"), B: v("n")}, Target: 2},
				},
				[]program.Stmt{
					call("got", "Test.peek", v("arr"), v("idx")),
					program.If{Cond: eq(v("got"), i(1)), Target: 3},
				},
				[]program.Stmt{emit('L'), program.Return{}},
				[]program.Stmt{emit('W'), program.Return{}},
			)
			b := program.NewBuilder().
				Method(main).
				Native("Test.peek", program.Int, program.Ref, program.Int)
			return new(library).fn("Test.peek", codePeek...).load(b)
		},
	})

	register(Sample{
		Name:  "badlength",
		Doc:   "one branch allocates an array whose length can never be valid",
		Entry: "Test.main",
		Win:   'W',
		build: func() *program.Builder {
			return program.NewBuilder().
				Method(method("Test.main", nil,
					[]program.Stmt{
						program.Assign{Dst: "c", Src: program.ReadStdin{}},
						program.If{Cond: eq(v("c"), i('A')), Target: 2},
					},
					[]program.Stmt{
						program.Assign{Dst: "n", Src: program.BinOp{Op: program.OpSub, A: v("c"), B: i(300)}},
						program.Assign{Dst: "arr", Src: program.NewArray{Elem: program.Int, Length: v("n")}},
						emit('L'),
						program.Return{},
					},
					[]program.Stmt{emit('W'), program.Return{}},
				))
		},
	})

	register(Sample{
		Name:  "crackme",
		Doc:   "a native check of one stdin byte decides the verdict",
		Entry: "Test.main",
		Win:   'W',
		build: func() *program.Builder {
			ok := program.Cmp{Op: program.CmpNe, A: v("ok"), B: i(0)}
			b := program.NewBuilder().
				Method(method("Test.main", nil, judged(ok,
					program.Assign{Dst: "c", Src: program.ReadStdin{}},
					call("ok", "Test.check", v("c")),
				)...)).
				Native("Test.check", program.Boolean, program.Int)
			return new(library).fn("Test.check", codeCheck...).load(b)
		},
	})

	register(Sample{
		Name:  "regionsum",
		Doc:   "native code sums a two element window read with GetIntArrayRegion",
		Entry: "Test.main",
		Win:   'W',
		build: func() *program.Builder {
			main := method("Test.main", []program.Param{param("idx", program.Int)},
				[]program.Stmt{
					program.Assign{Dst: "arr", Src: program.NewArray{Elem: program.Int, Length: i(10)}},
					program.Assign{Dst: "k", Src: i(0)},
				},
				[]program.Stmt{
					program.If{Cond: program.Cmp{Op: program.CmpGe, A: v("k"), B: i(10)}, Target: 3},
				},
				[]program.Stmt{
					program.ArrayStore{Array: v("arr"), Index: v("k"), Src: v("k")},
					program.Assign{Dst: "k", Src: program.BinOp{Op: program.OpAdd, A: v("k"), B: i(1)}},
					program.Goto{Target: 1},
				},
				[]program.Stmt{
					call("sum", "Test.sum2", v("arr"), v("idx")),
					program.If{Cond: eq(v("sum"), i(15)), Target: 5},
				},
				[]program.Stmt{emit('L'), program.Return{}},
				[]program.Stmt{emit('W'), program.Return{}},
			)
			b := program.NewBuilder().
				Method(main).
				Native("Test.sum2", program.Int, program.Ref, program.Int)
			return new(library).fn("Test.sum2", codeRegionSum...).load(b)
		},
	})

	register(Sample{
		Name:  "setone",
		Doc:   "native code writes one element at a symbolic index with SetIntArrayRegion",
		Entry: "Test.main",
		Win:   'W',
		build: func() *program.Builder {
			b := program.NewBuilder().
				Method(method("Test.main", []program.Param{param("idx", program.Int)}, judged(eq(v("first"), i(7)),
					program.Assign{Dst: "arr", Src: program.NewArray{Elem: program.Int, Length: i(3)}},
					call("", "Test.setOne", v("arr"), v("idx")),
					program.Assign{Dst: "first", Src: program.ArrayRef{Array: v("arr"), Index: i(0)}},
				)...)).
				Native("Test.setOne", program.Void, program.Ref, program.Int)
			return new(library).fn("Test.setOne", codeSetOne...).load(b)
		},
	})

	register(Sample{
		Name:  "symlen",
		Doc:   "an array whose length comes from stdin",
		Entry: "Test.main",
		Win:   'W',
		build: func() *program.Builder {
			return program.NewBuilder().
				Method(method("Test.main", nil, judged(eq(v("n"), i('F')),
					program.Assign{Dst: "c", Src: program.ReadStdin{}},
					program.Assign{Dst: "arr", Src: program.NewArray{Elem: program.Int, Length: v("c")}},
					program.Assign{Dst: "n", Src: program.ArrayLength{Array: v("arr")}},
				)...))
		},
	})

	register(Sample{
		Name:  "symwrite",
		Doc:   "a stdin byte picks the index of an array write",
		Entry: "Test.main",
		Win:   'W',
		build: func() *program.Builder {
			return program.NewBuilder().
				Method(method("Test.main", nil, judged(eq(v("probe"), i(0x35)),
					program.Assign{Dst: "arr", Src: program.NewArray{Elem: program.Int, Length: i(100)}},
					program.Assign{Dst: "idx", Src: program.ReadStdin{}},
					program.Assign{Dst: "val", Src: program.ReadStdin{}},
					program.ArrayStore{Array: v("arr"), Index: v("idx"), Src: v("val")},
					program.Assign{Dst: "probe", Src: program.ArrayRef{Array: v("arr"), Index: i(73)}},
				)...))
		},
	})

	register(Sample{
		Name:  "symread",
		Doc:   "a stdin byte picks the index of an array read",
		Entry: "Test.main",
		Win:   'W',
		build: func() *program.Builder {
			body := []program.Stmt{
				program.Assign{Dst: "arr", Src: program.NewArray{Elem: program.Int, Length: i(4)}},
			}
			for k, x := range []int32{1, 0, 1, 0} {
				body = append(body, program.ArrayStore{Array: v("arr"), Index: i(int32(k)), Src: i(x)})
			}
			body = append(body,
				program.Assign{Dst: "c", Src: program.ReadStdin{}},
				program.Assign{Dst: "idx", Src: program.BinOp{Op: program.OpSub, A: v("c"), B: i('A')}},
				program.Assign{Dst: "got", Src: program.ArrayRef{Array: v("arr"), Index: v("idx")}},
			)
			return program.NewBuilder().
				Method(method("Test.main", nil, judged(eq(v("got"), i(1)), body...)...))
		},
	})

	register(Sample{
		Name:  "bounds",
		Doc:   "reads around the end of an array whose length comes from stdin",
		Entry: "Test.main",
		build: func() *program.Builder {
			read := func(dst string, idx int32) program.Stmt {
				return program.Assign{Dst: dst, Src: program.ArrayRef{Array: v("arr"), Index: i(idx)}}
			}
			return program.NewBuilder().
				Method(method("Test.main", nil, []program.Stmt{
					program.Assign{Dst: "c", Src: program.ReadStdin{}},
					program.Assign{Dst: "arr", Src: program.NewArray{Elem: program.Int, Length: v("c")}},
					read("i1", 0),
					read("i2", 300),
					read("i3", -1),
					read("i4", 254),
					read("i5", 255),
					program.Return{},
				}))
		},
	})

	register(Sample{
		Name:   "pshufb",
		Doc:    "a byte shuffle of xmm1 by the selectors in xmm2",
		Entry:  "pshufb",
		Native: true,
		build: func() *program.Builder {
			return new(library).raw("pshufb", codePshufb...).load(program.NewBuilder())
		},
	})

	register(Sample{
		Name:   "pmulhw",
		Doc:    "the high halves of the signed 16-bit products of xmm1 and xmm2",
		Entry:  "pmulhw",
		Native: true,
		build: func() *program.Builder {
			return new(library).raw("pmulhw", codePmulhw...).load(program.NewBuilder())
		},
	})
}
