package gateway

import "testing"

func TestValidateWSRequestFrame(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		wantErr bool
	}{
		{"chat send", `{"type":"req","id":"1","method":"chat.send","params":{"sessionId":"s1","message":"hi"}}`, false},
		{"chat send with metadata", `{"type":"req","id":"1","method":"chat.send","params":{"sessionId":"s1","message":"hi","metadataIp":"1.2.3.4"}}`, false},
		{"ping without params", `{"type":"req","id":"1","method":"ping"}`, false},
		{"unknown method passes envelope", `{"type":"req","id":"1","method":"other"}`, false},
		{"missing id", `{"type":"req","method":"ping"}`, true},
		{"wrong type", `{"type":"res","id":"1","method":"ping"}`, true},
		{"empty message", `{"type":"req","id":"1","method":"chat.send","params":{"sessionId":"s1","message":""}}`, true},
		{"extra param", `{"type":"req","id":"1","method":"chat.send","params":{"sessionId":"s1","message":"hi","stream":true}}`, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := decodeWSFrame([]byte(tt.raw))
			if (err != nil) != tt.wantErr {
				t.Fatalf("decodeWSFrame() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
