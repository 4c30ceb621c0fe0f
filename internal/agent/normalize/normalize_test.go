package normalize

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDate(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"15/03/2024", "15/03/2024", true},
		{"15-03-2024", "15/03/2024", true},
		{"15/03/24", "15/03/2024", true},
		{"01/01/49", "01/01/2049", true},
		{"01/01/50", "01/01/1950", true},
		{"31/12/99", "31/12/1999", true},
		{"2024/03/15", "15/03/2024", true},
		{"2024-03-15", "15/03/2024", true},
		{"Data: 15/03/2024.", "15/03/2024", true},
		{"invalid date", "", false},
		{"1/3/2024", "", false},
		{"123/03/2024", "", false},
		{"15/03/202", "", false},
		{"", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := Date(tt.in)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCPF(t *testing.T) {
	got, ok := CPF("123.456.789-01")
	assert.True(t, ok)
	assert.Equal(t, "123.456.789-01", got)

	got, ok = CPF("12345678901")
	assert.True(t, ok)
	assert.Equal(t, "123.456.789-01", got)

	_, ok = CPF("123.456.789-0")
	assert.False(t, ok)
}

func TestCPFIdempotentOnElevenDigits(t *testing.T) {
	r := rand.New(rand.NewSource(42))
	for i := 0; i < 200; i++ {
		in := fmt.Sprintf("%011d", r.Int63n(1e11))
		once, ok := CPF(in)
		assert.True(t, ok, in)
		twice, ok := CPF(once)
		assert.True(t, ok, once)
		assert.Equal(t, once, twice)
	}
}

func TestCPFRejectsOtherDigitCounts(t *testing.T) {
	for n := 0; n <= 20; n++ {
		if n == 11 {
			continue
		}
		in := ""
		for i := 0; i < n; i++ {
			in += fmt.Sprint(i % 10)
		}
		_, ok := CPF(in)
		assert.False(t, ok, "length %d", n)
	}
}

func TestCRM(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"CRM: 123456 SP", "CRM 123456 SP", true},
		{"CRM 123456-RJ", "CRM 123456 RJ", true},
		{"crm 98765 mg", "CRM 98765 MG", true},
		{"CRM:42", "CRM 42", true},
		{"CRM 123456", "CRM 123456", true},
		{"CRM/SP 123456", "CRM 123456 SP", true},
		{"CRM 123456 SPX", "CRM 123456", true},
		{"registro 123456", "", false},
		{"CRM", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := CRM(tt.in)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPhone(t *testing.T) {
	got, ok := Phone("1133334444")
	assert.True(t, ok)
	assert.Equal(t, "(11) 3333-4444", got)

	got, ok = Phone("(11) 98888-7777")
	assert.True(t, ok)
	assert.Equal(t, "(11) 98888-7777", got)

	for _, in := range []string{"", "123", "123456789", "123456789012"} {
		_, ok := Phone(in)
		assert.False(t, ok, in)
	}
}

func TestClean(t *testing.T) {
	assert.Equal(t, "Hospital São Lucas", Clean("  Hospital \t São\n\nLucas  "))
	assert.Equal(t, "", Clean(" \n\t "))

	_, ok := Text("   ")
	assert.False(t, ok)
}

func TestLookup(t *testing.T) {
	for _, name := range []string{"date", "CPF", " crm ", "phone", "text"} {
		_, ok := Lookup(name)
		assert.True(t, ok, name)
	}
	_, ok := Lookup("iban")
	assert.False(t, ok)
}
