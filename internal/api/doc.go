// Package api 通过 REST 接口暴露会话管理、命令执行、目录自省与人工审核。
// 除会话创建、/healthz 与 /metrics 外，所有路由都要求 Bearer 令牌与钱包地址头。
package api
