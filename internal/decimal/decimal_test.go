package decimal

import "testing"

func TestStringRoundTrip(t *testing.T) {
	t.Parallel()
	cases := []string{"0", "1234.567000000", "-99.9", "0.000000001", "100"}
	for _, c := range cases {
		d, err := NewFromString(c)
		if err != nil {
			t.Fatalf("parse %q: %v", c, err)
		}
		got, err := NewFromString(d.String())
		if err != nil {
			t.Fatalf("re-parse %q: %v", d.String(), err)
		}
		if !got.Equal(d) {
			t.Errorf("round trip %q: got %v want %v", c, got, d)
		}
	}
}

func TestArithmeticExact(t *testing.T) {
	t.Parallel()
	a := MustFromString("10")
	b := MustFromString("3")
	sum := a.Add(b)
	if sum.String() != "13" {
		t.Errorf("Add = %s, want 13", sum)
	}
	diff := a.Sub(b)
	if diff.String() != "7" {
		t.Errorf("Sub = %s, want 7", diff)
	}
	prod := a.Mul(b)
	if prod.String() != "30" {
		t.Errorf("Mul = %s, want 30", prod)
	}
}

func TestDivCheckedByZero(t *testing.T) {
	t.Parallel()
	a := MustFromString("10")
	if _, err := a.DivChecked(Zero, Scale); err == nil {
		t.Fatal("expected error dividing by zero")
	}
}

func TestDivCheckedScale(t *testing.T) {
	t.Parallel()
	a := MustFromString("10")
	b := MustFromString("3")
	q, err := a.DivChecked(b, 9)
	if err != nil {
		t.Fatal(err)
	}
	if q.String() != "3.333333333" {
		t.Errorf("DivChecked = %s, want 3.333333333", q)
	}
}

func TestPositionMathExample(t *testing.T) {
	t.Parallel()
	// 30500/15 = 2033.333333333...
	total := MustFromString("30500")
	qty := MustFromString("15")
	entry, err := total.DivChecked(qty, Scale)
	if err != nil {
		t.Fatal(err)
	}
	if entry.String() != "2033.333333333" {
		t.Errorf("entry = %s, want 2033.333333333", entry)
	}
}

func TestJSONRoundTrip(t *testing.T) {
	t.Parallel()
	d := MustFromString("42.5")
	data, err := d.MarshalJSON()
	if err != nil {
		t.Fatal(err)
	}
	var got Decimal
	if err := got.UnmarshalJSON(data); err != nil {
		t.Fatal(err)
	}
	if !got.Equal(d) {
		t.Errorf("got %v, want %v", got, d)
	}
}
