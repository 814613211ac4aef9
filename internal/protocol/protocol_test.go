package protocol

import (
	"encoding/json"
	"testing"
)

func TestClientMessagesWireFormat(t *testing.T) {
	tests := []struct {
		name string
		msg  any
		want string
	}{
		{"create", Create("/tmp", 120, 40, "", "shell"), `{"type":"create","cwd":"/tmp","cols":120,"rows":40,"name":"shell"}`},
		{"create with project", Create("", 80, 24, "p1", "t"), `{"type":"create","cols":80,"rows":24,"projectId":"p1","name":"t"}`},
		{"attach", Attach("t1"), `{"type":"attach","terminalId":"t1"}`},
		{"input", Input("t1", "ls\r"), `{"type":"input","terminalId":"t1","data":"ls\r"}`},
		{"resize", Resize("t1", 100, 30), `{"type":"resize","terminalId":"t1","cols":100,"rows":30}`},
		{"detach", Detach("t1"), `{"type":"detach","terminalId":"t1"}`},
		{"kill", Kill("t1"), `{"type":"kill","terminalId":"t1"}`},
		{"exec start", ExecStart("echo hi", ""), `{"type":"exec_start","command":"echo hi"}`},
		{"exec kill", ExecKill("e1"), `{"type":"exec_kill","execId":"e1"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := json.Marshal(tt.msg)
			if err != nil {
				t.Fatalf("marshal: %v", err)
			}
			if string(data) != tt.want {
				t.Errorf("got %s, want %s", data, tt.want)
			}
		})
	}
}

func TestDecodeHostMessages(t *testing.T) {
	env, err := Decode([]byte(`{"type":"created","terminalId":"t1"}`))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if env.Type != TypeCreated || env.TerminalID != "t1" {
		t.Fatalf("unexpected envelope: %+v", env)
	}

	env, err = Decode([]byte(`{"type":"exit","exitCode":0}`))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if env.ExitCode == nil || *env.ExitCode != 0 {
		t.Fatalf("exit code not decoded: %+v", env)
	}

	env, err = Decode([]byte(`{"type":"exec_exit","code":2}`))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if env.Code == nil || *env.Code != 2 {
		t.Fatalf("exec code not decoded: %+v", env)
	}

	if _, err := Decode([]byte(`{"data":"x"}`)); err == nil {
		t.Fatal("expected error for missing type")
	}
	if _, err := Decode([]byte(`not json`)); err == nil {
		t.Fatal("expected error for invalid json")
	}
}
