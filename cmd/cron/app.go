package main

import "caseprint-service/internal/biz"

// CronApp Cron 应用结构
type CronApp struct {
	reconciler *biz.StatusReconciler
	conf       *biz.ReconcilerConfig
}
