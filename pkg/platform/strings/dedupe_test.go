package strings

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDedupeAndTrim(t *testing.T) {
	tests := []struct {
		name  string
		input []string
		want  []string
	}{
		{name: "nil slice", input: nil, want: nil},
		{name: "empty slice", input: []string{}, want: []string{}},
		{
			name:  "broker list with padding and repeats",
			input: []string{" kafka-1:9092 ", "kafka-2:9092", "kafka-1:9092", ""},
			want:  []string{"kafka-1:9092", "kafka-2:9092"},
		},
		{
			name:  "whitespace-only entries are dropped",
			input: []string{"  ", "\t", "kafka-1:9092"},
			want:  []string{"kafka-1:9092"},
		},
		{
			name:  "case differences survive",
			input: []string{"Foo", "foo", "FOO"},
			want:  []string{"Foo", "foo", "FOO"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DedupeAndTrim(tt.input))
		})
	}
}

func TestDedupeAndTrimLower(t *testing.T) {
	tests := []struct {
		name  string
		input []string
		want  []string
	}{
		{name: "nil slice", input: nil, want: nil},
		{
			name:  "case differences collapse",
			input: []string{"Example.org", "example.org", "EXAMPLE.ORG"},
			want:  []string{"example.org"},
		},
		{
			name:  "email provider list with padding",
			input: []string{"  Throwaway.example ", "mailinator.example", "throwaway.example"},
			want:  []string{"throwaway.example", "mailinator.example"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DedupeAndTrimLower(tt.input))
		})
	}
}
