package db

var (
	RunRollupOnce    = runRollupOnce
	RunRetentionOnce = runRetentionOnce
)
