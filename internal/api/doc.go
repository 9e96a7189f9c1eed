// Package api 暴露 HTTP 接口：自然语言对话解析、交易执行、异步任务、
// 链下通讯录以及交易状态查询。
package api
