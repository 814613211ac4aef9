// Package protocol defines the JSON messages exchanged with the PTY host on
// the terminal control channel and the exec fallback channel.
package protocol

import (
	"encoding/json"
	"fmt"
)

// Client → host, PTY channel.
const (
	TypeCreate = "create"
	TypeAttach = "attach"
	TypeInput  = "input"
	TypeResize = "resize"
	TypeDetach = "detach"
	TypeKill   = "kill"
)

// Host → client, PTY channel.
const (
	TypeCreated       = "created"
	TypeAttached      = "attached"
	TypeOutput        = "output"
	TypeExit          = "exit"
	TypeError         = "error"
	TypeErrorDetected = "error_detected"
	TypeResizeError   = "resize_error"
)

// Exec channel.
const (
	TypeExecStart   = "exec_start"
	TypeExecKill    = "exec_kill"
	TypeExecStarted = "exec_started"
	TypeExecStdout  = "exec_stdout"
	TypeExecStderr  = "exec_stderr"
	TypeExecExit    = "exec_exit"
	TypeExecError   = "exec_error"
)

type CreateMessage struct {
	Type      string `json:"type"`
	Cwd       string `json:"cwd,omitempty"`
	Cols      int    `json:"cols"`
	Rows      int    `json:"rows"`
	ProjectID string `json:"projectId,omitempty"`
	Name      string `json:"name"`
}

type AttachMessage struct {
	Type       string `json:"type"`
	TerminalID string `json:"terminalId"`
}

type InputMessage struct {
	Type       string `json:"type"`
	TerminalID string `json:"terminalId"`
	Data       string `json:"data"`
}

type ResizeMessage struct {
	Type       string `json:"type"`
	TerminalID string `json:"terminalId"`
	Cols       int    `json:"cols"`
	Rows       int    `json:"rows"`
}

// TerminalMessage carries only a terminal id; used for detach and kill.
type TerminalMessage struct {
	Type       string `json:"type"`
	TerminalID string `json:"terminalId"`
}

type ExecStartMessage struct {
	Type    string `json:"type"`
	Command string `json:"command"`
	Cwd     string `json:"cwd,omitempty"`
}

type ExecKillMessage struct {
	Type   string `json:"type"`
	ExecID string `json:"execId"`
}

// Envelope is the union of every host → client message. Only the fields
// relevant to Type are populated.
type Envelope struct {
	Type       string `json:"type"`
	TerminalID string `json:"terminalId,omitempty"`
	Data       string `json:"data,omitempty"`
	ExitCode   *int   `json:"exitCode,omitempty"`
	Message    string `json:"message,omitempty"`
	ExecID     string `json:"execId,omitempty"`
	Code       *int   `json:"code,omitempty"`
}

// Decode parses a host message. A message without a type is an error.
func Decode(raw []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, fmt.Errorf("decode host message: %w", err)
	}
	if env.Type == "" {
		return Envelope{}, fmt.Errorf("decode host message: missing type")
	}
	return env, nil
}

// Constructors keep the type tag and payload in one place.

func Create(cwd string, cols, rows int, projectID, name string) CreateMessage {
	return CreateMessage{Type: TypeCreate, Cwd: cwd, Cols: cols, Rows: rows, ProjectID: projectID, Name: name}
}

func Attach(terminalID string) AttachMessage {
	return AttachMessage{Type: TypeAttach, TerminalID: terminalID}
}

func Input(terminalID, data string) InputMessage {
	return InputMessage{Type: TypeInput, TerminalID: terminalID, Data: data}
}

func Resize(terminalID string, cols, rows int) ResizeMessage {
	return ResizeMessage{Type: TypeResize, TerminalID: terminalID, Cols: cols, Rows: rows}
}

func Detach(terminalID string) TerminalMessage {
	return TerminalMessage{Type: TypeDetach, TerminalID: terminalID}
}

func Kill(terminalID string) TerminalMessage {
	return TerminalMessage{Type: TypeKill, TerminalID: terminalID}
}

func ExecStart(command, cwd string) ExecStartMessage {
	return ExecStartMessage{Type: TypeExecStart, Command: command, Cwd: cwd}
}

func ExecKill(execID string) ExecKillMessage {
	return ExecKillMessage{Type: TypeExecKill, ExecID: execID}
}
