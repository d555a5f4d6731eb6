// Package logging provides structured logging using uber/zap.
//
// Production mode writes JSON for machine parsing; development mode
// writes colored console output. Session, Fragment and Component derive
// child loggers so every line about a session carries its id.
//
//	logger, _ := logging.New(logging.Config{Level: "info"})
//	logger.Session("tty-1").Info("batch executed", zap.Int("fragments", 3))
package logging
