package dtmf

import (
	"errors"
	"testing"
	"time"
)

func TestNewRequest_Clamps(t *testing.T) {
	tests := []struct {
		name        string
		digits      int
		timeout     time.Duration
		wantDigits  int
		wantTimeout time.Duration
	}{
		{"zero digits", 0, 5 * time.Second, 1, 5 * time.Second},
		{"negative digits", -3, 5 * time.Second, 1, 5 * time.Second},
		{"one digit", 1, 5 * time.Second, 1, 5 * time.Second},
		{"short timeout", 4, 500 * time.Millisecond, 4, time.Second},
		{"negative timeout", 4, -time.Second, 4, time.Second},
		{"zero timeout", 4, 0, 4, time.Second},
		{"long timeout", 4, 30 * time.Second, 4, 30 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRequest(tt.digits, tt.timeout, 0)
			if r.Digits != tt.wantDigits {
				t.Errorf("Digits = %d, want %d", r.Digits, tt.wantDigits)
			}
			if r.Timeout != tt.wantTimeout {
				t.Errorf("Timeout = %v, want %v", r.Timeout, tt.wantTimeout)
			}
			if r.Capacity != DefaultCapacity {
				t.Errorf("Capacity = %d, want %d", r.Capacity, DefaultCapacity)
			}
		})
	}
}

func TestRequest_Validate(t *testing.T) {
	if err := NewRequest(20, 0, 10).Validate(); !errors.Is(err, ErrBufferTooSmall) {
		t.Errorf("Validate() = %v, want ErrBufferTooSmall", err)
	}
	if err := NewRequest(10, 0, 10).Validate(); err != nil {
		t.Errorf("Validate() = %v, want nil", err)
	}
}
