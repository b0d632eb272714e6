//go:build unix

package dispatch

import (
	"testing"
)

func TestExecLauncher(t *testing.T) {
	tests := []struct {
		name     string
		argv     []string
		wantErr  bool
		wantCode int
	}{
		{name: "exit status is reported", argv: []string{"sh", "-c", "exit 3"}, wantCode: 3},
		{name: "success", argv: []string{"sh", "-c", "true"}, wantCode: 0},
		{name: "missing executable", argv: []string{"dispatch-test-no-such-binary"}, wantErr: true},
		{name: "empty argv", argv: nil, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			proc, err := ExecLauncher(tt.argv)
			if tt.wantErr {
				if err == nil {
					t.Fatal("ExecLauncher() expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("ExecLauncher() error = %v", err)
			}
			if proc.Pid() <= 0 {
				t.Fatalf("Pid() = %d", proc.Pid())
			}
			code, err := proc.Wait()
			if err != nil {
				t.Fatalf("Wait() error = %v", err)
			}
			if code != tt.wantCode {
				t.Fatalf("exit code = %d, want %d", code, tt.wantCode)
			}
		})
	}
}
