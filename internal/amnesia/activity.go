package amnesia

import "fmt"

// ActivityKind 描述传输层观察到的新活动类型。
type ActivityKind int

const (
	// ActivityMessage 任意一条非指令的入站消息。
	ActivityMessage ActivityKind = iota
	// ActivityLLMRequest 即将向大模型发起的请求。
	ActivityLLMRequest
)

func (k ActivityKind) String() string {
	switch k {
	case ActivityMessage:
		return "message"
	case ActivityLLMRequest:
		return "llm_request"
	default:
		return fmt.Sprintf("activity(%d)", int(k))
	}
}

// ActivityPolicy 判断某类活动是否应当让可反悔记录失效。
type ActivityPolicy func(ActivityKind) bool

// 配置中 invalidate_on 的合法取值。
const (
	PolicyLLMRequest = "llm_request"
	PolicyAnyMessage = "any_message"
)

// InvalidateOnLLMRequest 只在即将调用大模型时失效。
func InvalidateOnLLMRequest(kind ActivityKind) bool {
	return kind == ActivityLLMRequest
}

// InvalidateOnAnyMessage 任何入站消息或模型请求都会失效。
func InvalidateOnAnyMessage(kind ActivityKind) bool {
	return kind == ActivityMessage || kind == ActivityLLMRequest
}

// ParseActivityPolicy 将配置值转换为 ActivityPolicy。
func ParseActivityPolicy(name string) (ActivityPolicy, error) {
	switch name {
	case PolicyLLMRequest, "":
		return InvalidateOnLLMRequest, nil
	case PolicyAnyMessage:
		return InvalidateOnAnyMessage, nil
	default:
		return nil, fmt.Errorf("unknown invalidate_on policy %q", name)
	}
}
