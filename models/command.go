package models

import (
	"encoding/json"
	"time"
)

type CommandType string

const (
	CmdScanNow      CommandType = "scan_now"
	CmdPause        CommandType = "pause"
	CmdResume       CommandType = "resume"
	CmdSetFrequency CommandType = "set_frequency"
)

type Command struct {
	ID          int64           `json:"id" db:"id"`
	Command     CommandType     `json:"command" db:"command"`
	Params      json.RawMessage `json:"params" db:"params"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
	ProcessedAt *time.Time      `json:"processed_at" db:"processed_at"`
}

type CommandParams struct {
	Frequency string `json:"frequency,omitempty"`
}
