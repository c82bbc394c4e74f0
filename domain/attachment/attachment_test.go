package attachment_test

import (
	"testing"

	"github.com/felixgeelhaar/eventstore-go/domain/attachment"
)

func TestRef_IsValid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		ref  attachment.Ref
		want bool
	}{
		{"complete", attachment.Ref{UserID: "u1", EventID: "e1", FileID: "f1"}, true},
		{"missing file", attachment.Ref{UserID: "u1", EventID: "e1"}, false},
		{"path traversal", attachment.Ref{UserID: "u1", EventID: "..", FileID: "f1"}, false},
		{"separator", attachment.Ref{UserID: "u1/u2", EventID: "e1", FileID: "f1"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := tt.ref.IsValid(); got != tt.want {
				t.Errorf("IsValid() = %v, want %v", got, tt.want)
			}
		})
	}
}
