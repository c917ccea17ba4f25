package models

import "time"

type SecurityInfo struct {
	Code         string `json:"code"`
	Name         string `json:"name"`
	Market       string `json:"market"`
	Exchange     string `json:"exchange"`
	ExchangeName string `json:"exchange_name"`
	Currency     string `json:"currency"`
}

type ModelInfo struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Size        string `json:"size"`
	Performance string `json:"performance"`
}

type ModelStatus struct {
	Available    bool        `json:"available"`
	Loaded       bool        `json:"loaded"`
	CurrentModel string      `json:"current_model,omitempty"`
	LoadedAt     *time.Time  `json:"loaded_at,omitempty"`
	Models       []ModelInfo `json:"models"`
}
