// Package gapless 解析 MP3 编码器写入的无缝播放（gapless）填充信息。
//
// 支持两类标签：iTunes 的 iTunSMPB 注释，以及 Xing/Info 头中 LAME/Lavf
// 扩展里的 encoder delay / padding 字段。
package gapless

import (
	"bytes"

	"sensor-playback/internal/config"
	"sensor-playback/internal/models"
)

const (
	// iTunSMPB 字段相对标记的偏移
	itunesFrontOffset = 34
	itunesFieldGap    = 9
	itunesPadLen      = 8
	itunesSamplesLen  = 16

	// Xing 头: 标记(4) + flags(4) + 帧数(4)
	xingFrameCountOffset = 8
	// LAME 扩展: 标记后 21 字节为 12bit 前填充 + 12bit 尾填充
	lameDelayOffset = 21

	// 大端整数上限，达到即视为无效
	maxInt = 1 << 31
)

var (
	markerITunes = []byte("iTunSMPB")
	markerXing   = []byte("Xing")
	markerInfo   = []byte("Info")
	markerLAME   = []byte("LAME")
	markerLavf   = []byte("Lavf")
)

// Parse 从 MP3 分段中提取实际音频时长与前填充时长。
// 未找到任何标签时返回零值，调用方按未填充处理。
func Parse(buf []byte) models.GaplessMetadata {
	head := buf[:min(len(buf), config.GaplessScanBytes)]

	var frontPadding, endPadding, realSamples int64

	if i := bytes.Index(head, markerITunes); i >= 0 {
		frontIdx := i + itunesFrontOffset
		frontPadding = parseHex(substr(head, frontIdx, itunesPadLen))

		endIdx := frontIdx + itunesFieldGap
		endPadding = parseHex(substr(head, endIdx, itunesPadLen))

		countIdx := endIdx + itunesFieldGap
		realSamples = parseHex(substr(head, countIdx, itunesSamplesLen))
	}

	xing := bytes.Index(head, markerXing)
	if xing < 0 {
		xing = bytes.Index(head, markerInfo)
	}
	if xing >= 0 {
		if frameCount, ok := readInt(head, xing+xingFrameCountOffset, 4); ok {
			paddedSamples := frameCount * config.SamplesPerFrame

			region := head[xing:]
			lame := bytes.Index(region, markerLAME)
			if lame < 0 {
				lame = bytes.Index(region, markerLavf)
			}
			if lame >= 0 {
				if bits, ok := readInt(region, lame+lameDelayOffset, 3); ok {
					frontPadding = bits >> 12
					endPadding = bits & 0xFFF
				}
			}

			realSamples = max(paddedSamples-(frontPadding+endPadding), 0)
		}
	}

	return models.GaplessMetadata{
		AudioDuration:        samplesToSeconds(realSamples),
		FrontPaddingDuration: samplesToSeconds(frontPadding),
	}
}

func samplesToSeconds(samples int64) float64 {
	return float64(samples) / config.MP3SampleRate
}

// substr 越界时截断，与按字符串截取一致
func substr(b []byte, start, n int) []byte {
	if start < 0 || start >= len(b) {
		return nil
	}
	return b[start:min(len(b), start+n)]
}

// readInt 读取 b[start:start+n] 的大端整数；字段被扫描范围截断或结果 >= 2^31 时返回 false
func readInt(b []byte, start, n int) (int64, bool) {
	if n <= 0 || start < 0 || start+n > len(b) {
		return 0, false
	}
	var v int64
	for _, c := range b[start : start+n] {
		v = v<<8 | int64(c)
		if v >= maxInt {
			return 0, false
		}
	}
	return v, true
}

// parseHex 解析前导十六进制数字，遇到非十六进制字符即停止；无数字返回 0
func parseHex(b []byte) int64 {
	b = bytes.TrimLeft(b, " ")
	var v int64
	for _, c := range b {
		var d byte
		switch {
		case c >= '0' && c <= '9':
			d = c - '0'
		case c >= 'a' && c <= 'f':
			d = c - 'a' + 10
		case c >= 'A' && c <= 'F':
			d = c - 'A' + 10
		default:
			return v
		}
		v = v<<4 | int64(d)
	}
	return v
}
