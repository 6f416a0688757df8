package api

// @title Strategy Mutation Engine API
// @version 1.0
// @description Mutation and execution safety engine for machine-generated trading strategies
// @termsOfService http://swagger.io/terms/

// @contact.name API Support
// @contact.url http://www.swagger.io/support
// @contact.email support@swagger.io

// @license.name Apache 2.0
// @license.url http://www.apache.org/licenses/LICENSE-2.0.html

// @host localhost:8082
// @BasePath /api/v1

// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
// @description Type "Bearer" followed by a space and JWT token.

// @tag.name mutations
// @tag.description Strategy snippet mutation operations

// @tag.name validations
// @tag.description Security screening operations

// @tag.name executions
// @tag.description Sandboxed backtest execution operations

// @tag.name statistics
// @tag.description Tier, operator and sandbox statistics

// @tag.name evolution
// @tag.description Evolution loop status operations

// @tag.name auth
// @tag.description Authentication operations

// @tag.name websocket
// @tag.description Real-time engine event streaming
