package kf

// DefaultTopic 示例消息写入的 topic
const DefaultTopic = "my-topic"
