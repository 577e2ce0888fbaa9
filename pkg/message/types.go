// Package message 定义路由结果发布到 Redis Streams 时使用的消息格式。
package message

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

// 错误定义
var (
	ErrInvalidChecksum = errors.New("消息校验和不匹配")
	ErrInvalidFormat   = errors.New("消息格式无效")
)

const (
	// Version 当前消息格式版本
	Version = "1.0"
	// StreamPrefix 路由结果 Stream 名称前缀
	StreamPrefix = "stream:route:"
)

// MessageHeader 消息头部信息
type MessageHeader struct {
	MessageID   string `json:"messageId"`
	Timestamp   int64  `json:"timestamp"`
	Version     string `json:"version"`
	Producer    string `json:"producer"`
	ContentType string `json:"contentType"`
}

// AttemptSummary 单次供应商尝试的摘要
type AttemptSummary struct {
	Provider   string `json:"provider"`
	Role       string `json:"role"`
	Status     string `json:"status"`
	DurationMs int64  `json:"durationMs"`
	Error      string `json:"error,omitempty"`
}

// MessageMetadata 消息元数据
type MessageMetadata struct {
	Method    string           `json:"method"`
	Job       string           `json:"job,omitempty"`
	Args      []string         `json:"args,omitempty"`
	Providers []string         `json:"providers"` // 成功返回结果的供应商
	Attempts  []AttemptSummary `json:"attempts,omitempty"`
}

// RouteMessage 一次路由执行的结果消息
type RouteMessage struct {
	Header   MessageHeader   `json:"header"`
	Metadata MessageMetadata `json:"metadata"`
	Payload  string          `json:"payload"`
	Checksum string          `json:"checksum"`
}

// NewRouteMessage 创建路由结果消息并计算校验和
func NewRouteMessage(producer string, metadata MessageMetadata, payload string) *RouteMessage {
	if metadata.Providers == nil {
		metadata.Providers = []string{}
	}
	msg := &RouteMessage{
		Header: MessageHeader{
			MessageID:   uuid.New().String(),
			Timestamp:   time.Now().Unix(),
			Version:     Version,
			Producer:    producer,
			ContentType: "text/plain",
		},
		Metadata: metadata,
		Payload:  payload,
	}
	msg.Checksum = msg.calculateChecksum()
	return msg
}

func (m *RouteMessage) calculateChecksum() string {
	temp := RouteMessage{
		Header:   m.Header,
		Metadata: m.Metadata,
		Payload:  m.Payload,
	}
	data, err := json.Marshal(temp)
	if err != nil {
		return ""
	}
	hash := sha256.Sum256(data)
	return "sha256:" + hex.EncodeToString(hash[:])
}

// Validate 校验消息完整性
func (m *RouteMessage) Validate() error {
	if m.Header.MessageID == "" || m.Metadata.Method == "" {
		return ErrInvalidFormat
	}
	if m.Checksum != m.calculateChecksum() {
		return ErrInvalidChecksum
	}
	return nil
}

// ToJSON 将消息转换为 JSON 字符串
func (m *RouteMessage) ToJSON() (string, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// FromJSON 从 JSON 字符串解析消息
func FromJSON(jsonStr string) (*RouteMessage, error) {
	var msg RouteMessage
	if err := json.Unmarshal([]byte(jsonStr), &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// GetStreamName 返回方法对应的 Redis Stream 名称，override 非空时直接使用
func GetStreamName(method, override string) string {
	if s := strings.TrimSpace(override); s != "" {
		return s
	}
	if method == "" {
		return StreamPrefix + "unknown"
	}
	return StreamPrefix + method
}
