// Package retention prunes old tunnel records from the inventory.
//
// A Pruner deletes tunnels that started more than retention days ago. A
// Scheduler runs it on a cron expression (robfig/cron standard syntax):
//
//	pruner := retention.NewPruner(store, cfg.Inventory.Retention, logger)
//	if err := retention.NewScheduler(pruner).Start(ctx); err != nil {
//	    return err
//	}
//
// Retention of 0 days keeps records forever.
package retention
