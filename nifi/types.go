package nifi

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound 按名称找不到组件
	ErrNotFound = errors.New("nifi component not found")
	// ErrAmbiguous 同名组件不止一个
	ErrAmbiguous = errors.New("nifi component name is ambiguous")
)

// Kind 组件类型，取值与 NiFi connectable type 一致
type Kind string

const (
	// KindInputPort 输入端口
	KindInputPort Kind = "INPUT_PORT"
	// KindOutputPort 输出端口
	KindOutputPort Kind = "OUTPUT_PORT"
	// KindProcessor 处理器
	KindProcessor Kind = "PROCESSOR"
	// KindProcessGroup 处理器组
	KindProcessGroup Kind = "PROCESS_GROUP"
)

// RelationshipSuccess 处理器成功输出的关系名
const RelationshipSuccess = "success"

// Component 按名称解析得到的组件引用
type Component struct {
	ID            string
	ParentGroupID string
	Name          string
	Kind          Kind
	Type          string
	Revision      Revision
}

// Connection 两个组件之间的有向连接
type Connection struct {
	ID           string
	Source       *Component
	Destination  *Component
	Relationship string
}

// APIError 非 2xx 响应
type APIError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("nifi %s %s: status %d: %s", e.Method, e.Path, e.StatusCode, e.Body)
}

// 以下为 REST 报文结构，只保留用到的字段

// Revision 组件版本，更新组件时需带上当前版本
type Revision struct {
	Version  int64  `json:"version"`
	ClientID string `json:"clientId,omitempty"`
}

type searchResultsEntity struct {
	SearchResultsDTO searchResults `json:"searchResultsDTO"`
}

type searchResults struct {
	ProcessorResults    []searchResult `json:"processorResults"`
	InputPortResults    []searchResult `json:"inputPortResults"`
	OutputPortResults   []searchResult `json:"outputPortResults"`
	ProcessGroupResults []searchResult `json:"processGroupResults"`
}

type searchResult struct {
	ID      string   `json:"id"`
	GroupID string   `json:"groupId"`
	Name    string   `json:"name"`
	Matches []string `json:"matches,omitempty"`
}

type componentEntity struct {
	ID        string        `json:"id"`
	Revision  Revision      `json:"revision"`
	Component componentInfo `json:"component"`
}

type componentInfo struct {
	ID            string           `json:"id"`
	ParentGroupID string           `json:"parentGroupId"`
	Name          string           `json:"name"`
	Type          string           `json:"type,omitempty"`
	Config        *processorConfig `json:"config,omitempty"`
}

type processorConfig struct {
	Properties map[string]*string `json:"properties,omitempty"`
}

type processorUpdate struct {
	Revision  Revision            `json:"revision"`
	Component processorUpdateInfo `json:"component"`
}

type processorUpdateInfo struct {
	ID     string          `json:"id"`
	Config processorConfig `json:"config"`
}

type connectable struct {
	ID      string `json:"id"`
	GroupID string `json:"groupId"`
	Type    Kind   `json:"type"`
}

type connectionEntity struct {
	ID        string        `json:"id,omitempty"`
	Revision  Revision      `json:"revision"`
	Component connectionDTO `json:"component"`
}

type connectionDTO struct {
	ID                    string      `json:"id,omitempty"`
	ParentGroupID         string      `json:"parentGroupId,omitempty"`
	Source                connectable `json:"source"`
	Destination           connectable `json:"destination"`
	SelectedRelationships []string    `json:"selectedRelationships,omitempty"`
}

type scheduleEntity struct {
	ID    string `json:"id"`
	State string `json:"state"`
}
