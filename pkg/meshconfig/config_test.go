package meshconfig

import "testing"

func TestConfig_StdioAllowed(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		nodeEnv     string
		unsafeAllow bool
		wantAllowed bool
	}{
		{"dev allows stdio", "development", false, true},
		{"empty env allows stdio", "", false, true},
		{"prod blocks stdio by default", "production", false, false},
		{"prod with override allows stdio", "production", true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c := &Config{NodeEnv: tt.nodeEnv, UnsafeAllowStdioTransport: tt.unsafeAllow}
			if got := c.StdioAllowed(); got != tt.wantAllowed {
				t.Errorf("StdioAllowed() = %v, want %v", got, tt.wantAllowed)
			}
		})
	}
}
