// Package redis 基于 Redis 保存通讯录索引等轻量级映射数据，
// 多个服务实例可以共享同一份账户到 blob ID 的对应关系。
package redis
