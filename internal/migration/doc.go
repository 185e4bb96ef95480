// 版权所有 2024 AgentWeave Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 migration 管理工作流存储、Agent 目录与审计事件三张表的 Schema 版本。

每种方言（Postgres、MySQL、SQLite）的 SQL 文件内嵌于 migrations/<dialect>，
由 golang-migrate 通过 iofs 源执行，版本记录在 schema_migrations 表。

# 用法

	m, err := migration.OpenConfig(cfg.Database, migration.Options{Logger: logger})
	if err != nil {
		return err
	}
	defer m.Close()
	if err := m.EnsureCurrent(); err != nil {
		// ErrSchemaDirty 或 ErrSchemaBehind
	}

迁移操作接受 context.Context；ctx 取消后当前迁移文件执行完即停止，
不会留下半个文件的变更。Force 只改写版本号，用于修复 dirty 状态。

CLI 为 `agentweave migrate` 子命令渲染输出，除常规的 up / down / steps /
goto / force 外，plan 列出待执行的迁移，check 在 Schema 落后或 dirty 时
返回错误，适合作为部署前的 init 步骤。

服务端开启 store.auto_migrate 时改用 GORM AutoMigrate 建表，两者的
表结构保持一致。
*/
package migration
