// Package tlsutil 集中管理 API 端口、Agent 调用与 Redis 连接的 TLS 设置：
// TLS 1.2+、仅 AEAD 套件，出站连接支持自定义 CA 与双向 TLS。
package tlsutil
