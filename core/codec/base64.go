package codec

import (
	"encoding/base64"
	"fmt"
	"strings"

	"UsefulTimer/model"
)

// EncodeBase64 标准 base64（带填充），对任意字节无损
func EncodeBase64(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}

// DecodeBase64 解码 base64 文本。旧数据可能带有 "data:audio/wav;base64," 前缀，解码前去掉。
func DecodeBase64(text string) ([]byte, error) {
	text = StripDataURL(text)
	data, err := base64.StdEncoding.DecodeString(text)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid base64 payload: %v", model.ErrValidation, err)
	}
	return data, nil
}

// StripDataURL 去掉 data URL 头部，没有前缀时原样返回
func StripDataURL(text string) string {
	if !strings.HasPrefix(text, "data:") {
		return text
	}
	if i := strings.Index(text, ","); i >= 0 {
		return text[i+1:]
	}
	return text
}

// DataURLContentType 取出 data URL 中的 MIME 类型
func DataURLContentType(text string) string {
	if !strings.HasPrefix(text, "data:") {
		return ""
	}
	head := text[len("data:"):]
	if i := strings.IndexAny(head, ";,"); i >= 0 {
		return head[:i]
	}
	return ""
}
