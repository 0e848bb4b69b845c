package model

import "time"

// ErrorResponse 错误响应
type ErrorResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Kind    string `json:"kind,omitempty"`
	Error   string `json:"error,omitempty"`
}

// SessionResponse 创建或替换图片后的响应
type SessionResponse struct {
	Success   bool   `json:"success"`
	SessionID string `json:"session_id"`
	Filename  string `json:"filename,omitempty"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
}

// CompositeData 一次合成的结果摘要，图片本身通过下载接口获取
type CompositeData struct {
	Tier        string   `json:"tier"`
	Background  string   `json:"background"`
	Width       int      `json:"width"`
	Height      int      `json:"height"`
	Warnings    []string `json:"warnings,omitempty"`
	States      []string `json:"states,omitempty"`
	DownloadURL string   `json:"download_url"`
}

// RemoveResponse 去背景响应
type RemoveResponse struct {
	Success bool           `json:"success"`
	Message string         `json:"message"`
	Data    *CompositeData `json:"data,omitempty"`
}

// BackgroundResponse 切换背景响应；没有掩码时 Data 为空
type BackgroundResponse struct {
	Success    bool           `json:"success"`
	Message    string         `json:"message"`
	Background string         `json:"background"`
	Data       *CompositeData `json:"data,omitempty"`
}

// StatusResponse 会话状态
type StatusResponse struct {
	Success bool          `json:"success"`
	Data    SessionStatus `json:"data"`
}

// SessionStatus pipeline.SessionStatus 的接口表示
type SessionStatus struct {
	ID           string    `json:"id"`
	Filename     string    `json:"filename,omitempty"`
	Width        int       `json:"width"`
	Height       int       `json:"height"`
	State        string    `json:"state"`
	Notice       string    `json:"notice,omitempty"`
	Tier         string    `json:"tier,omitempty"`
	Background   string    `json:"background"`
	HasMask      bool      `json:"has_mask"`
	HasComposite bool      `json:"has_composite"`
	Warnings     []string  `json:"warnings,omitempty"`
	LastError    string    `json:"last_error,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// ModelStatusResponse 本地模型状态
type ModelStatusResponse struct {
	State        string `json:"state"`
	Ready        bool   `json:"ready"`
	Backend      string `json:"backend"`
	RemoteActive bool   `json:"remote_enabled"`
	Error        string `json:"error,omitempty"`
}
