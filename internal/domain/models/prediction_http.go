package models

// Request payloads for the HTTP and Kafka edges.

type PredictRequest struct {
	StockCode   string  `json:"stock_code" validate:"required"`
	Lookback    int     `json:"lookback" default:"30" validate:"gte=1,lte=1000"`
	PredLen     int     `json:"pred_len" default:"5" validate:"gte=1,lte=30"`
	Temperature float64 `json:"temperature" default:"0.7" validate:"gte=0.1,lte=2"`
	SessionID   string  `json:"session_id,omitempty"`
}

type ListPredictionsRequest struct {
	StockCode string `query:"stock_code"`
	Status    string `query:"status" validate:"omitempty,oneof=processing completed failed"`
	Limit     int    `query:"limit" default:"20" validate:"gte=1,lte=200"`
	Offset    int    `query:"offset" validate:"gte=0"`
}

type RecordIDRequest struct {
	ID string `param:"id" validate:"required,uuid"`
}

type LoadModelRequest struct {
	ModelName string `json:"model_name" validate:"required"`
}

type StockDataRequest struct {
	Code   string `query:"code" validate:"required"`
	Period string `query:"period" default:"1y" validate:"oneof=1m 3m 6m 1y 2y"`
}

type StockInfoRequest struct {
	Code string `query:"code" validate:"required"`
}

type ValidateStockRequest struct {
	StockCode string `json:"stock_code"`
}
