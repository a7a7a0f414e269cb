package debver

import "testing"

func TestCompareBasic(t *testing.T) {
	cases := []struct {
		a, b string
		want int
	}{
		{"1.0-1", "1.0-2", -1},
		{"1.0~rc1", "1.0", -1},
		{"1:1.0", "2.0", 1},
		{"1.0", "1.00", 0},
		{"1.0-1.1", "1.0-1.10", -1},
		{"1.0", "1.0", 0},
		{"1.0-1", "1.0-1", 0},
		{"1.2.3", "1.2.3", 0},
		{"2.0", "1.0", 1},
		{"1.0~beta1~svn1245", "1.0~beta1", -1},
		{"1.0~beta1", "1.0~beta2", -1},
		{"7.6p2-4", "7.6p2-3", 1},
		{"1.0", "1.0-0", 0},
		{"0:1.0", "1.0", 0},
	}
	for _, c := range cases {
		if got := Compare(c.a, c.b); got != c.want {
			t.Errorf("Compare(%q, %q) = %d, want %d", c.a, c.b, got, c.want)
		}
	}
}

func TestCompareAntisymmetric(t *testing.T) {
	pairs := [][2]string{
		{"1.0-1", "1.0-2"},
		{"1.0~rc1", "1.0"},
		{"1:1.0", "2.0"},
		{"1.0-1.1", "1.0-1.10"},
		{"abc", "abd"},
		{"1.0+git20200101", "1.0"},
	}
	for _, p := range pairs {
		fwd := Compare(p[0], p[1])
		back := Compare(p[1], p[0])
		if fwd != -back {
			t.Errorf("Compare(%q,%q)=%d and Compare(%q,%q)=%d are not antisymmetric", p[0], p[1], fwd, p[1], p[0], back)
		}
	}
}

func TestCompareReflexive(t *testing.T) {
	for _, v := range []string{"1.0", "1:2.3-4", "1.0~rc1-1", "", "0"} {
		if Compare(v, v) != 0 {
			t.Errorf("Compare(%q, %q) != 0", v, v)
		}
	}
}

func TestCheckDep(t *testing.T) {
	cases := []struct {
		pkg string
		op  Op
		dep string
		want bool
	}{
		{"1.2", OpGreaterEq, "1.0", true},
		{"1.0", OpGreaterEq, "1.2", false},
		{"1.0", OpLess, "1.0", false},
		{"1.0", OpLessEq, "1.0", true},
		{"1.0", OpEquals, "1.0", true},
		{"1.0", OpNotEquals, "1.1", true},
		{"anything", OpNone, "", true},
	}
	for _, c := range cases {
		if got := CheckDep(c.pkg, c.op, c.dep); got != c.want {
			t.Errorf("CheckDep(%q, %v, %q) = %v, want %v", c.pkg, c.op, c.dep, got, c.want)
		}
	}
}

func TestParseOp(t *testing.T) {
	cases := map[string]Op{
		"<<": OpLess,
		"<=": OpLessEq,
		"<":  OpLessEq,
		"=":  OpEquals,
		">=": OpGreaterEq,
		">>": OpGreater,
		">":  OpGreater,
		"!=": OpNotEquals,
		"":   OpNone,
	}
	for tok, want := range cases {
		got, err := ParseOp(tok)
		if err != nil {
			t.Errorf("ParseOp(%q) returned error: %v", tok, err)
			continue
		}
		if got != want {
			t.Errorf("ParseOp(%q) = %v, want %v", tok, got, want)
		}
	}
	if _, err := ParseOp("??"); err == nil {
		t.Error("ParseOp(\"??\") expected error, got nil")
	}
}
