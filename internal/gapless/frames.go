package gapless

import "bytes"

// MPEG 音频帧头查表 (Layer III)
var (
	// MPEG1 Layer III, kbps
	bitratesV1 = [16]int{0, 32, 40, 48, 56, 64, 80, 96, 112, 128, 160, 192, 224, 256, 320, 0}
	// MPEG2 / 2.5 Layer III, kbps
	bitratesV2 = [16]int{0, 8, 16, 24, 32, 40, 48, 56, 64, 80, 96, 112, 128, 144, 160, 0}

	sampleRatesV1 = [4]int{44100, 48000, 32000, 0}
)

const (
	versionMPEG25 = 0
	versionMPEG2  = 2
	versionMPEG1  = 3
	layerIII      = 1
	id3HeaderSize = 10
)

// frameHeader 单个 MPEG 音频帧的解析结果
type frameHeader struct {
	sampleRate int
	samples    int // 每帧采样数
	size       int // 字节
}

func parseFrameHeader(b []byte) (frameHeader, bool) {
	if len(b) < 4 || b[0] != 0xFF || b[1]&0xE0 != 0xE0 {
		return frameHeader{}, false
	}

	version := int(b[1]>>3) & 0x03
	layer := int(b[1]>>1) & 0x03
	if version == 1 || layer != layerIII {
		return frameHeader{}, false
	}

	bitrateIdx := int(b[2]>>4) & 0x0F
	rateIdx := int(b[2]>>2) & 0x03
	padding := int(b[2]>>1) & 0x01

	sampleRate := sampleRatesV1[rateIdx]
	bitrate := bitratesV1[bitrateIdx]
	samples := 1152
	slot := 144
	switch version {
	case versionMPEG2:
		sampleRate /= 2
		bitrate = bitratesV2[bitrateIdx]
		samples, slot = 576, 72
	case versionMPEG25:
		sampleRate /= 4
		bitrate = bitratesV2[bitrateIdx]
		samples, slot = 576, 72
	}
	if sampleRate == 0 || bitrate == 0 {
		return frameHeader{}, false
	}

	return frameHeader{
		sampleRate: sampleRate,
		samples:    samples,
		size:       slot*bitrate*1000/sampleRate + padding,
	}, true
}

// skipID3 返回 ID3v2 标签之后的偏移
func skipID3(buf []byte) int {
	if len(buf) < id3HeaderSize || !bytes.HasPrefix(buf, []byte("ID3")) {
		return 0
	}
	// syncsafe 整数，每字节 7 位
	size := int(buf[6]&0x7F)<<21 | int(buf[7]&0x7F)<<14 | int(buf[8]&0x7F)<<7 | int(buf[9]&0x7F)
	end := id3HeaderSize + size
	if buf[5]&0x10 != 0 {
		end += id3HeaderSize // footer
	}
	return min(end, len(buf))
}

// RawDuration 按帧头累加分段的未裁剪时长（秒）。
// 携带 Xing/Info 标签的首帧不含音频，不计入。
func RawDuration(buf []byte) float64 {
	pos := skipID3(buf)
	var seconds float64
	first := true

	for pos+4 <= len(buf) {
		h, ok := parseFrameHeader(buf[pos:])
		if !ok {
			pos++
			continue
		}
		end := min(pos+h.size, len(buf))
		if first {
			first = false
			frame := buf[pos:end]
			if bytes.Contains(frame, markerXing) || bytes.Contains(frame, markerInfo) {
				pos = end
				continue
			}
		}
		if pos+h.size > len(buf) {
			break
		}
		seconds += float64(h.samples) / float64(h.sampleRate)
		pos = end
	}

	return seconds
}
