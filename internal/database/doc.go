// 版权所有 2024 AgentWeave Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 database 为工作流存储与数据库审计打开共享的 GORM 连接。

Open 按驱动名选择方言：postgres、mysql、sqlite（glebarez/sqlite，纯 Go）
与 sqlite3（需要 CGO）。连接以 UTC 记录时间，唯一约束冲突被翻译为
gorm.ErrDuplicatedKey。

SQL 日志经 GormLogger 写入 zap：普通语句为 debug，超过 SlowThreshold
的语句为 warn，执行失败为 error。

PoolManager 应用连接池参数并可按 HealthCheckInterval 在后台探活，
只在数据库变为不可达或恢复时记录日志。就绪检查直接调用 Ping。
*/
package database
