package models

// GaplessMetadata MP3 分段的无缝播放信息（秒）
type GaplessMetadata struct {
	AudioDuration        float64 `json:"audioDuration"`
	FrontPaddingDuration float64 `json:"frontPaddingDuration"`
}

// Found 是否解析到任何无缝标签
func (m GaplessMetadata) Found() bool {
	return m.AudioDuration > 0 || m.FrontPaddingDuration > 0
}

// BufferedFrame 已缓冲的 JPEG 帧，写入后不可变
type BufferedFrame struct {
	Index int    // 帧号，从 1 开始
	Data  []byte // JPEG 原始字节
	Time  int64  // frame-time 响应头，缺失为 0
}

// BufferedSegment 已缓冲的 MP3 分段
type BufferedSegment struct {
	Index   int
	Data    []byte
	Time    int64 // segment-time 响应头
	Gapless GaplessMetadata
}

// SenseSample 环境传感器采样
type SenseSample struct {
	Temperature float64 `json:"temperature"`
	Pressure    float64 `json:"pressure"`
	Humidity    float64 `json:"humidity"`
}

// SenseDisplay 渲染后的环境数据；无数据时为占位符
type SenseDisplay struct {
	Temperature string `json:"temperature"`
	Pressure    string `json:"pressure"`
	Humidity    string `json:"humidity"`
	Empty       bool   `json:"empty"`
}
