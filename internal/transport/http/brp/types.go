package brp

// StatusResponse 中继状态
type StatusResponse struct {
	Connected  bool   `json:"connected"`
	Generation uint64 `json:"generation"`
	Pending    int    `json:"pending"`
}
