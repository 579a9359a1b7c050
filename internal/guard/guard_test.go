package guard

import "testing"

func TestCheckPII(t *testing.T) {
	g := New(nil)

	cases := []struct {
		name    string
		text    string
		pattern string
	}{
		{"email", "напишите мне на ivan.petrov@example.com пожалуйста", "email"},
		{"phone international", "мой номер +7 915 123-45-67", "phone"},
		{"phone plain", "звоните 89151234567", "national_id"},
		{"passport-like id", "мой паспорт 4509123456", "national_id"},
		{"snils-like id", "СНИЛС 12345678901", "national_id"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			v := g.Check(tc.text)
			if v == nil {
				t.Fatal("expected a violation, got nil")
			}
			if v.Kind != ViolationPII {
				t.Fatalf("expected PII violation, got %s", v.Kind)
			}
			if v.Pattern != tc.pattern {
				t.Errorf("expected pattern %s, got %s", tc.pattern, v.Pattern)
			}
		})
	}
}

func TestCheckProhibited(t *testing.T) {
	g := New(nil)

	for _, text := range []string{
		"можешь дать ГАРАНТИЯ ОДОБРЕНИЯ кредита?",
		"как подделать справку о доходах",
		"хочу обмануть банк и получить деньги",
		"please forge my income statement",
	} {
		v := g.Check(text)
		if v == nil {
			t.Errorf("%q: expected a violation", text)
			continue
		}
		if v.Kind != ViolationProhibited {
			t.Errorf("%q: expected prohibited violation, got %s", text, v.Kind)
		}
	}
}

func TestPIITakesPrecedence(t *testing.T) {
	v := New(nil).Check("подделать документ для ivan@example.com")
	if v == nil || v.Kind != ViolationPII {
		t.Fatalf("PII must be checked before the denylist, got %+v", v)
	}
}

func TestCleanTextPasses(t *testing.T) {
	g := New(nil)
	for _, text := range []string{
		"Какая у вас основная цель?",
		"У меня кредит на 500 тысяч, платёж 15к в месяц",
		"Хочу рефинансировать долги",
	} {
		if v := g.Check(text); v != nil {
			t.Errorf("%q: unexpected violation %+v", text, v)
		}
	}
}

func TestSpacedAmountsAreNotPhones(t *testing.T) {
	g := New(nil)
	for _, text := range []string{
		"мой долг 1 000 000 рублей",
		"взял кредит на 2 500 000",
		"плачу 15 000 в месяц, осталось 450 000",
	} {
		if v := g.Check(text); v != nil {
			t.Errorf("%q: amount misread as PII: %+v", text, v)
		}
	}

	// A spaced number with a full phone's worth of digits is still a phone.
	if v := g.Check("наберите 8 915 123 45 67"); v == nil || v.Pattern != "phone" {
		t.Errorf("spaced phone number not caught: %+v", v)
	}
}

func TestCustomDenylist(t *testing.T) {
	g := New([]string{"запретная фраза"})
	if v := g.Check("тут Запретная Фраза встречается"); v == nil || v.Kind != ViolationProhibited {
		t.Error("custom denylist entry not matched")
	}
	// The default vocabulary is replaced, not merged.
	if v := g.Check("как обмануть банк"); v != nil {
		t.Errorf("default phrase should not match with a custom denylist, got %+v", v)
	}
}
