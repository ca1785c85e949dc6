package pipeline

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// ParseError 描述一次阶段输出解析或校验失败
type ParseError struct {
	Stage   Stage
	Raw     string
	Message string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("stage %s: invalid output: %s", e.Stage, e.Message)
}

var fencedJSON = regexp.MustCompile("(?s)```(?:json)?\\s*\\n?(.*?)\\n?```")

// extractJSON 从可能带 markdown 代码块或前后文字的响应中取出 JSON
func extractJSON(response string) string {
	response = strings.TrimSpace(response)

	if strings.Contains(response, "```") {
		if m := fencedJSON.FindStringSubmatch(response); len(m) > 1 {
			return strings.TrimSpace(m[1])
		}
	}
	if strings.HasPrefix(response, "{") || strings.HasPrefix(response, "[") {
		return response
	}

	// 尝试找到 JSON 对象边界
	start := strings.Index(response, "{")
	end := strings.LastIndex(response, "}")
	if start >= 0 && end > start {
		return response[start : end+1]
	}

	// 尝试找到 JSON 数组边界
	start = strings.Index(response, "[")
	end = strings.LastIndex(response, "]")
	if start >= 0 && end > start {
		return response[start : end+1]
	}
	return response
}

// parseOutput 解析并校验阶段输出
func parseOutput[T Validator](stage Stage, raw string) (T, error) {
	var value T
	if err := json.Unmarshal([]byte(extractJSON(raw)), &value); err != nil {
		return value, &ParseError{Stage: stage, Raw: raw, Message: fmt.Sprintf("JSON parse error: %v", err)}
	}
	if err := value.Validate(); err != nil {
		return value, &ParseError{Stage: stage, Raw: raw, Message: err.Error()}
	}
	return value, nil
}

func mustJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}
