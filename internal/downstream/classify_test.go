package downstream

import "testing"

func TestIsRequestForStreaming(t *testing.T) {
	tests := []struct {
		name    string
		pragmas map[string]string
		want    bool
	}{
		{"xplaystrm present", map[string]string{"xplaystrm": "1"}, true},
		{"stream-switch-count present", map[string]string{"stream-switch-count": "2"}, true},
		{"request-context 2", map[string]string{"request-context": "2"}, true},
		{"request-context 1 only", map[string]string{"request-context": "1"}, false},
		{"request-context missing", map[string]string{"no-cache": ""}, false},
		{"empty", map[string]string{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRequestForStreaming(tt.pragmas); got != tt.want {
				t.Errorf("IsRequestForStreaming(%v) = %v, want %v", tt.pragmas, got, tt.want)
			}
		})
	}
}

func TestIsRequestForHeader(t *testing.T) {
	tests := []struct {
		name    string
		pragmas map[string]string
		want    bool
	}{
		{"rate present", map[string]string{"rate": "1.000000"}, true},
		{"xclientguid present", map[string]string{"xclientguid": "abc"}, true},
		{"no relevant keys", map[string]string{"foo": "bar"}, false},
		{"empty", map[string]string{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRequestForHeader(tt.pragmas); got != tt.want {
				t.Errorf("IsRequestForHeader(%v) = %v, want %v", tt.pragmas, got, tt.want)
			}
		})
	}
}
