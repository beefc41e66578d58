package maskx

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPhone(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"13812345678", "138****5678"},
		{"12345678", "123*5678"},
		{"1234567", "1234567"},
		{"", ""},
		{"+4917612345678", "+49*******5678"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, Phone(tt.in))
		})
	}
}

func TestIDNumber(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"110101199001011234", "110101********1234"},
		{"12345678901", "123456*8901"},
		{"1234567890", "1234567890"},
		{"", ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, IDNumber(tt.in))
		})
	}
}

func TestEmail(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"example@domain.com", "exa****@domain.com"},
		{"abcd@x.org", "abc*@x.org"},
		{"abc@x.org", "a**@x.org"},
		{"a@x.org", "a@x.org"},
		{"@x.org", "@x.org"},
		{"not-an-email", "not-an-email"},
		{"", ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, Email(tt.in))
		})
	}
}

func TestAddress(t *testing.T) {
	assert.Equal(t, "Main S", Address("Main S"))
	assert.Equal(t, "Main S*****...", Address("Main Street"))
	assert.Equal(t, "Long A**********...", Address("Long Avenue 1234567890"))
}

func TestName(t *testing.T) {
	assert.Equal(t, "", Name(""))
	assert.Equal(t, "张", Name("张"))
	assert.Equal(t, "张*", Name("张三"))
	assert.Equal(t, "J***", Name("John"))
}
