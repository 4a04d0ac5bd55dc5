package mailbox

import "testing"

func TestValidateRecord(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		wantErr bool
	}{
		{
			name: "relay with required fields",
			raw:  `{"kind":"relay","subject_id":"42","creator":"nova","title":"t","media_ref":{"kind":"image","ref":"file-1"}}`,
		},
		{
			name:    "relay missing media",
			raw:     `{"kind":"relay","subject_id":"42","creator":"nova","title":"t"}`,
			wantErr: true,
		},
		{
			name: "dm",
			raw:  `{"kind":"dm","subject_id":"42","creator":"nova","message":"hey"}`,
		},
		{
			name:    "dm missing message",
			raw:     `{"kind":"dm","subject_id":"42","creator":"nova"}`,
			wantErr: true,
		},
		{
			name: "unlock register with items",
			raw:  `{"kind":"unlock_register","subject_id":"42","content_id":"c1","items":[{"kind":"image","ref":"file-9"}]}`,
		},
		{
			name:    "unlock register without content id",
			raw:     `{"kind":"unlock_register","subject_id":"42"}`,
			wantErr: true,
		},
		{
			name: "proxy alert",
			raw:  `{"kind":"proxy_alert","subject_id":"42","source":"fan/relay","reason":"delivery_failed"}`,
		},
		{
			name: "unknown kind passes through",
			raw:  `{"kind":"creator_side_thing","anything":1}`,
		},
		{
			name:    "missing kind",
			raw:     `{"subject_id":"42"}`,
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateRecord([]byte(tt.raw))
			if tt.wantErr && err == nil {
				t.Fatalf("expected validation error")
			}
			if !tt.wantErr && err != nil {
				t.Fatalf("unexpected validation error: %v", err)
			}
		})
	}
}
