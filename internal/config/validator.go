package config

import (
	"fmt"
	"math"
	"strings"
)

// Validator 配置验证器
type Validator struct {
	config *Config
}

// NewValidator 创建配置验证器
func NewValidator(config *Config) *Validator {
	return &Validator{
		config: config,
	}
}

// Validate 验证配置
func (v *Validator) Validate() error {
	var errors []string

	// 验证应用配置
	if err := v.validateApp(); err != nil {
		errors = append(errors, fmt.Sprintf("应用配置错误: %v", err))
	}

	// 验证服务器配置
	if err := v.validateServer(); err != nil {
		errors = append(errors, fmt.Sprintf("服务器配置错误: %v", err))
	}

	// 验证数据库配置
	if err := v.validateDatabase(); err != nil {
		errors = append(errors, fmt.Sprintf("数据库配置错误: %v", err))
	}

	// 验证Redis配置
	if err := v.validateRedis(); err != nil {
		errors = append(errors, fmt.Sprintf("Redis配置错误: %v", err))
	}

	// 验证JWT配置
	if err := v.validateJWT(); err != nil {
		errors = append(errors, fmt.Sprintf("JWT配置错误: %v", err))
	}

	// 验证限流配置
	if err := v.validateRateLimit(); err != nil {
		errors = append(errors, fmt.Sprintf("限流配置错误: %v", err))
	}

	// 验证日志配置
	if err := v.validateLogging(); err != nil {
		errors = append(errors, fmt.Sprintf("日志配置错误: %v", err))
	}

	// 验证变异引擎配置
	if err := v.validateEngine(); err != nil {
		errors = append(errors, fmt.Sprintf("引擎配置错误: %v", err))
	}

	// 验证沙箱配置
	if err := v.validateSandbox(); err != nil {
		errors = append(errors, fmt.Sprintf("沙箱配置错误: %v", err))
	}

	// 验证回测配置
	if err := v.validateBacktest(); err != nil {
		errors = append(errors, fmt.Sprintf("回测配置错误: %v", err))
	}

	// 验证交易所配置
	if err := v.validateExchange(); err != nil {
		errors = append(errors, fmt.Sprintf("交易所配置错误: %v", err))
	}

	// 验证定时任务配置
	if err := v.validateCron(); err != nil {
		errors = append(errors, fmt.Sprintf("定时任务配置错误: %v", err))
	}

	if len(errors) > 0 {
		return fmt.Errorf("配置验证失败:\n%s", strings.Join(errors, "\n"))
	}

	return nil
}

// validateApp 验证应用配置
func (v *Validator) validateApp() error {
	app := v.config.App

	if app.Name == "" {
		return fmt.Errorf("应用名称不能为空")
	}

	if app.Version == "" {
		return fmt.Errorf("应用版本不能为空")
	}

	validEnvironments := []string{"development", "staging", "production"}
	valid := false
	for _, env := range validEnvironments {
		if app.Env == env {
			valid = true
			break
		}
	}
	if !valid {
		return fmt.Errorf("无效的环境: %s, 有效值: %v", app.Env, validEnvironments)
	}

	return nil
}

// validateServer 验证服务器配置
func (v *Validator) validateServer() error {
	server := v.config.Server

	if server.Port <= 0 || server.Port > 65535 {
		return fmt.Errorf("无效的端口号: %d", server.Port)
	}

	if server.ReadTimeout <= 0 {
		return fmt.Errorf("读取超时必须大于0")
	}

	if server.WriteTimeout <= 0 {
		return fmt.Errorf("写入超时必须大于0")
	}

	if server.MaxHeaderBytes <= 0 {
		return fmt.Errorf("最大头部字节数必须大于0")
	}

	return nil
}

// validateDatabase 验证数据库配置
func (v *Validator) validateDatabase() error {
	db := v.config.Database

	if !db.Enabled {
		return nil
	}

	if db.Host == "" {
		return fmt.Errorf("数据库主机不能为空")
	}

	if db.Port <= 0 || db.Port > 65535 {
		return fmt.Errorf("无效的数据库端口: %d", db.Port)
	}

	if db.User == "" {
		return fmt.Errorf("数据库用户不能为空")
	}

	if db.DBName == "" {
		return fmt.Errorf("数据库名称不能为空")
	}

	validSSLModes := []string{"disable", "require", "verify-ca", "verify-full"}
	valid := false
	for _, mode := range validSSLModes {
		if db.SSLMode == mode {
			valid = true
			break
		}
	}
	if !valid {
		return fmt.Errorf("无效的SSL模式: %s", db.SSLMode)
	}

	if db.MaxIdle > db.MaxOpen {
		return fmt.Errorf("空闲连接数不能大于最大连接数")
	}

	if db.Timeout <= 0 {
		return fmt.Errorf("连接超时必须大于0")
	}

	return nil
}

// validateRedis 验证Redis配置
func (v *Validator) validateRedis() error {
	redis := v.config.Redis

	if !redis.Enabled {
		return nil
	}

	if redis.Addr == "" {
		return fmt.Errorf("Redis地址不能为空")
	}

	if redis.DB < 0 || redis.DB > 15 {
		return fmt.Errorf("无效的Redis数据库编号: %d", redis.DB)
	}

	if redis.PoolSize <= 0 {
		return fmt.Errorf("连接池大小必须大于0")
	}

	return nil
}

// validateJWT 验证JWT配置
func (v *Validator) validateJWT() error {
	jwt := v.config.JWT

	if v.config.App.Env == "production" && len(jwt.SecretKey) < 32 {
		return fmt.Errorf("生产环境JWT密钥长度至少32个字符")
	}

	if jwt.Duration <= 0 {
		return fmt.Errorf("令牌有效期必须大于0")
	}

	return nil
}

// validateRateLimit 验证限流配置
func (v *Validator) validateRateLimit() error {
	rl := v.config.RateLimit

	if !rl.Enabled {
		return nil
	}

	if rl.RequestsPerMinute <= 0 {
		return fmt.Errorf("每分钟请求数必须大于0")
	}

	if rl.Burst <= 0 {
		return fmt.Errorf("突发请求数必须大于0")
	}

	return nil
}

// validateLogging 验证日志配置
func (v *Validator) validateLogging() error {
	logging := v.config.Logging

	validLevels := []string{"debug", "info", "warn", "error"}
	valid := false
	for _, level := range validLevels {
		if logging.Level == level {
			valid = true
			break
		}
	}
	if !valid {
		return fmt.Errorf("无效的日志级别: %s", logging.Level)
	}

	if logging.Format != "json" && logging.Format != "text" {
		return fmt.Errorf("无效的日志格式: %s", logging.Format)
	}

	if logging.Output != "stdout" && logging.Output != "stderr" && logging.Output != "file" {
		return fmt.Errorf("无效的日志输出: %s", logging.Output)
	}

	if logging.Output == "file" && logging.Filename == "" {
		return fmt.Errorf("文件输出需要指定文件名")
	}

	return nil
}

// validateEngine 验证变异引擎配置
func (v *Validator) validateEngine() error {
	engine := v.config.Engine

	if engine.ExitProbability < 0 || engine.ExitProbability > 1 {
		return fmt.Errorf("出场变异概率必须在0到1之间: %f", engine.ExitProbability)
	}

	if engine.ExitSigma <= 0 {
		return fmt.Errorf("出场参数扰动系数必须大于0: %f", engine.ExitSigma)
	}

	if engine.Tier1Sigma <= 0 {
		return fmt.Errorf("一级扰动系数必须大于0: %f", engine.Tier1Sigma)
	}

	if engine.Tier2Sigma <= 0 {
		return fmt.Errorf("二级扰动系数必须大于0: %f", engine.Tier2Sigma)
	}

	if engine.Tier3RewriteProb <= 0 || engine.Tier3RewriteProb > 1 {
		return fmt.Errorf("三级重写概率必须在0到1之间: %f", engine.Tier3RewriteProb)
	}

	if engine.Tier3ThresholdScale <= 0 {
		return fmt.Errorf("三级阈值缩放必须大于0: %f", engine.Tier3ThresholdScale)
	}

	if engine.PopulationSize <= 0 {
		return fmt.Errorf("种群规模必须大于0: %d", engine.PopulationSize)
	}

	if engine.MaxGenerations <= 0 {
		return fmt.Errorf("最大代数必须大于0: %d", engine.MaxGenerations)
	}

	for _, bound := range engine.Bounds {
		if bound.Name == "" {
			return fmt.Errorf("参数边界名称不能为空")
		}
		if bound.Min >= bound.Max {
			return fmt.Errorf("参数 %s 的下界必须小于上界", bound.Name)
		}
		if bound.Default < bound.Min || bound.Default > bound.Max {
			return fmt.Errorf("参数 %s 的默认值超出边界", bound.Name)
		}
	}

	if err := validateDistribution("early_distribution", engine.EarlyDistribution); err != nil {
		return err
	}
	if err := validateDistribution("late_distribution", engine.LateDistribution); err != nil {
		return err
	}

	return nil
}

// validateDistribution 验证操作概率分布
func validateDistribution(name string, dist map[string]float64) error {
	if len(dist) == 0 {
		return nil
	}

	sum := 0.0
	for key, weight := range dist {
		if weight < 0 {
			return fmt.Errorf("%s 中 %s 的权重不能为负", name, key)
		}
		sum += weight
	}

	// 概率和允许0.05的浮点误差
	if math.Abs(sum-1.0) > 0.05 {
		return fmt.Errorf("%s 的概率和必须为1.0, 实际为 %f", name, sum)
	}

	return nil
}

// validateSandbox 验证沙箱配置
func (v *Validator) validateSandbox() error {
	sandbox := v.config.Sandbox

	if sandbox.Mode != "direct" && sandbox.Mode != "isolated" {
		return fmt.Errorf("无效的执行模式: %s", sandbox.Mode)
	}

	if sandbox.Timeout <= 0 {
		return fmt.Errorf("执行超时必须大于0")
	}

	if sandbox.MaxParallel <= 0 {
		return fmt.Errorf("最大并发数必须大于0")
	}

	return nil
}

// validateBacktest 验证回测配置
func (v *Validator) validateBacktest() error {
	backtest := v.config.Backtest

	if backtest.Symbol == "" {
		return fmt.Errorf("交易对不能为空")
	}

	if backtest.Timeframe == "" {
		return fmt.Errorf("时间周期不能为空")
	}

	if backtest.Bars <= 0 {
		return fmt.Errorf("K线数量必须大于0")
	}

	if backtest.InitialCapital <= 0 {
		return fmt.Errorf("初始资金必须大于0")
	}

	if backtest.FeeRate < 0 {
		return fmt.Errorf("手续费率不能为负")
	}

	if backtest.StepBudget < 0 {
		return fmt.Errorf("执行步数预算不能为负")
	}

	return nil
}

// validateExchange 验证交易所配置
func (v *Validator) validateExchange() error {
	exchange := v.config.Exchange

	if exchange.Name == "" {
		return fmt.Errorf("交易所名称不能为空")
	}

	if !exchange.UseStatic && v.config.App.Env == "production" {
		if exchange.APIKey == "" || exchange.APISecret == "" {
			return fmt.Errorf("生产环境必须配置交易所API密钥")
		}
	}

	return nil
}

// validateCron 验证定时任务配置
func (v *Validator) validateCron() error {
	cron := v.config.Cron

	if !cron.Enabled {
		return nil
	}

	if cron.EvolutionSpec == "" {
		return fmt.Errorf("进化任务调度表达式不能为空")
	}

	if cron.SnapshotSpec == "" {
		return fmt.Errorf("快照任务调度表达式不能为空")
	}

	return nil
}
