// Command gen emits the AVX2 dot-product kernel and its Go stub. It is
// run through go:generate from the distance package; the output is build
// tagged by hand via -tags avo in the package that registers it.
package main

import (
	. "github.com/mmcloughlin/avo/build"
	. "github.com/mmcloughlin/avo/operand"
	reg "github.com/mmcloughlin/avo/reg"
)

func main() {
	TEXT("DotAVX2", NOSPLIT, "func(a, b []float32) float32")
	Pragma("noescape")
	Doc("DotAVX2 computes the inner product of two float32 vectors using AVX2 fused multiply-add.")
	generateDot()
	Generate()
}

func generateDot() {
	aPtr := Load(Param("a").Base(), GP64())
	bPtr := Load(Param("b").Base(), GP64())
	n := Load(Param("a").Len(), GP64())

	sumVec := YMM()
	VXORPS(sumVec, sumVec, sumVec)

	Label("loop_dot")
	CMPQ(n, Imm(8))
	JL(LabelRef("remainder_dot"))

	av := YMM()
	bv := YMM()
	VMOVUPS(Mem{Base: aPtr}, av)
	VMOVUPS(Mem{Base: bPtr}, bv)
	VFMADD231PS(av, bv, sumVec)

	ADDQ(Imm(32), aPtr)
	ADDQ(Imm(32), bPtr)
	SUBQ(Imm(8), n)
	JMP(LabelRef("loop_dot"))

	Label("remainder_dot")
	CMPQ(n, Imm(0))
	JE(LabelRef("done_dot"))

	as := XMM()
	bs := XMM()
	VMOVSS(Mem{Base: aPtr}, as)
	VMOVSS(Mem{Base: bPtr}, bs)

	prod := XMM()
	VMULSS(bs, as, prod)

	tmp := YMM()
	VXORPS(tmp, tmp, tmp)
	VMOVDQU(prod.AsY(), tmp)
	VADDPS(tmp, sumVec, sumVec)

	ADDQ(Imm(4), aPtr)
	ADDQ(Imm(4), bPtr)
	SUBQ(Imm(1), n)
	JMP(LabelRef("remainder_dot"))

	Label("done_dot")
	sumHorizontal(sumVec)

	ret := XMM()
	VMOVAPS(sumVec.AsX(), ret)
	Store(ret, ReturnIndex(0))
	RET()
}

// sumHorizontal folds the 8 float32 lanes of a YMM register into lane 0.
func sumHorizontal(vec reg.Register) {
	h1 := YMM()
	VEXTRACTF128(Imm(1), vec, h1.AsX())
	VADDPS(vec, h1, vec)

	h2 := YMM()
	VSHUFPS(Imm(0b11101110), vec, vec, h2)
	VADDPS(h2, vec, vec)

	h3 := YMM()
	VSHUFPS(Imm(0b01010101), vec, vec, h3)
	VADDPS(h3, vec, vec)
}
