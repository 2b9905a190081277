package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"bitbucket.org/mmdatafocus/flowtrack_backend/config"
	"bitbucket.org/mmdatafocus/flowtrack_backend/middlewares"
	"bitbucket.org/mmdatafocus/flowtrack_backend/models"
	"bitbucket.org/mmdatafocus/flowtrack_backend/utils"
	"bitbucket.org/mmdatafocus/flowtrack_backend/workflow"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const defaultPort = "8080"

func splitAndTrim(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// respondBindError turns gin binding failures into a field->tag map when the
// failure came from struct validation.
func respondBindError(c *gin.Context, err error) {
	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		c.JSON(http.StatusBadRequest, gin.H{"errors": utils.ProcessValidationErrors(err)})
		return
	}
	c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
}

// respondError maps the error taxonomy onto HTTP statuses. Conflicts carry
// the clashing period so the frontend can show which range is taken.
func respondError(c *gin.Context, err error) {
	var conflictErr *utils.ConflictError
	var formatErr *utils.FormatError
	var validationErr *utils.ValidationError

	switch {
	case errors.As(err, &conflictErr):
		c.JSON(http.StatusConflict, gin.H{
			"error":         conflictErr.Error(),
			"period_number": conflictErr.PeriodNumber,
			"start_date":    conflictErr.StartDate,
			"end_date":      conflictErr.EndDate,
		})
	case errors.As(err, &formatErr), errors.As(err, &validationErr):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, utils.ErrorRecordNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	default:
		config.LogError(config.GetLogger(), "server.go", "respondError", c.FullPath(), nil, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func loginHandler() gin.HandlerFunc {
	type loginRequest struct {
		Username string `json:"username" binding:"required"`
		Password string `json:"password" binding:"required"`
	}
	return func(c *gin.Context) {
		var req loginRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "username and password are required"})
			return
		}
		info, err := models.Login(c.Request.Context(), req.Username, req.Password)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, info)
	}
}

func importHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		fileHeader, err := c.FormFile("file")
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "a statement file is required"})
			return
		}
		file, err := fileHeader.Open()
		if err != nil {
			respondError(c, err)
			return
		}
		defer file.Close()

		periodNumber := 1
		if v := c.PostForm("period_number"); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				periodNumber = n
			}
		}
		input := workflow.ImportInput{
			FileName:       fileHeader.Filename,
			File:           file,
			PeriodNumber:   periodNumber,
			UserMode:       workflow.UserMode(c.DefaultPostForm("user_mode", string(workflow.UserModeNew))),
			CustomUsername: c.PostForm("custom_username"),
		}
		if v := c.PostForm("existing_customer_id"); v != "" {
			if id, err := strconv.Atoi(v); err == nil {
				input.ExistingCustomerID = &id
			}
		}

		result, err := workflow.ImportFlowStatement(c.Request.Context(), input)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, result)
	}
}

func listCustomersHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		customers, err := models.GetCustomers(c.Request.Context())
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, customers)
	}
}

func createCustomerHandler() gin.HandlerFunc {
	type createRequest struct {
		Username string `json:"username" binding:"required"`
		Password string `json:"password"`
	}
	return func(c *gin.Context) {
		var req createRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "username is required"})
			return
		}
		customer, err := models.CreateCustomer(c.Request.Context(), req.Username, req.Password)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, customer)
	}
}

func deleteUserHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := strconv.Atoi(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
			return
		}
		if err := models.DeleteUser(c.Request.Context(), id); err != nil {
			respondError(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

func resetPasswordHandler() gin.HandlerFunc {
	type resetRequest struct {
		Password string `json:"password"`
	}
	return func(c *gin.Context) {
		id, err := strconv.Atoi(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
			return
		}
		var req resetRequest
		_ = c.ShouldBindJSON(&req)
		if err := models.ResetPassword(c.Request.Context(), id, req.Password); err != nil {
			respondError(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

func listTargetsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		customerId, err := strconv.Atoi(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid customer id"})
			return
		}
		targets, err := models.GetTargets(c.Request.Context(), customerId)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, targets)
	}
}

func createTargetHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var input models.CreateTargetInput
		if err := c.ShouldBindJSON(&input); err != nil {
			respondBindError(c, err)
			return
		}
		target, err := models.CreateTarget(c.Request.Context(), input)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, target)
	}
}

func updateTargetHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := strconv.Atoi(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid target id"})
			return
		}
		var input models.UpdateTargetInput
		if err := c.ShouldBindJSON(&input); err != nil {
			respondBindError(c, err)
			return
		}
		target, err := models.UpdateTarget(c.Request.Context(), id, input)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, target)
	}
}

func deleteTargetHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := strconv.Atoi(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid target id"})
			return
		}
		deleteRecords := strings.EqualFold(c.Query("delete_records"), "true")
		if err := models.DeleteTarget(c.Request.Context(), id, deleteRecords); err != nil {
			respondError(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

func searchRecordsQuery(c *gin.Context) models.SearchRecordsInput {
	input := models.SearchRecordsInput{Page: 1, PageSize: 50}
	if v := c.Query("customer_id"); v != "" {
		if id, err := strconv.Atoi(v); err == nil {
			input.CustomerID = &id
		}
	}
	if v := c.Query("start_date"); v != "" {
		input.StartDate = &v
	}
	if v := c.Query("end_date"); v != "" {
		input.EndDate = &v
	}
	if v := c.Query("status"); v != "" {
		status := models.RecordStatus(v)
		input.Status = &status
	}
	// operator_id takes a numeric id or the legacy "self" alias.
	if v := c.Query("operator_id"); v != "" {
		if v == "self" {
			input.Operator = &models.OperatorRef{Kind: models.OperatorRefSelf}
		} else if id, err := strconv.Atoi(v); err == nil {
			ref := models.DecodeOperatorRef(&id)
			input.Operator = &ref
		}
	}
	if v := c.Query("channel_id"); v != "" {
		if id, err := strconv.Atoi(v); err == nil {
			input.ChannelID = &id
		}
	}
	if v := c.Query("is_summary"); v != "" {
		isSummary := strings.EqualFold(v, "true")
		input.IsSummary = &isSummary
	}
	if v := c.Query("page"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			input.Page = n
		}
	}
	if v := c.Query("page_size"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			input.PageSize = n
		}
	}
	return input
}

func searchRecordsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		input := searchRecordsQuery(c)
		records, total, err := models.SearchRecords(c.Request.Context(), input)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"records": records, "total": total})
	}
}

func createRecordHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var input models.CreateRecordInput
		if err := c.ShouldBindJSON(&input); err != nil {
			respondBindError(c, err)
			return
		}
		// Admin keyed entries default to the manual marker so listings show
		// who produced them.
		if input.Operator.Kind == "" || input.Operator.Kind == models.OperatorRefNone {
			input.Operator = models.OperatorRef{Kind: models.OperatorRefAdminManual}
		}
		record, err := models.CreateRecord(c.Request.Context(), input)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, record)
	}
}

func updateRecordStatusHandler() gin.HandlerFunc {
	type statusRequest struct {
		Status    models.RecordStatus `json:"status" binding:"required"`
		Operator  models.OperatorRef  `json:"operator"`
		ChannelID *int                `json:"channel_id"`
	}
	return func(c *gin.Context) {
		id, err := strconv.Atoi(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid record id"})
			return
		}
		var req statusRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondBindError(c, err)
			return
		}
		record, err := models.UpdateRecordStatus(c.Request.Context(), id, req.Status, req.Operator, req.ChannelID)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, record)
	}
}

func deleteRecordHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := strconv.Atoi(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid record id"})
			return
		}
		if err := models.DeleteRecord(c.Request.Context(), id); err != nil {
			respondError(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

func listOperatorsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		customerId, err := strconv.Atoi(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid customer id"})
			return
		}
		operators, err := models.GetOperators(c.Request.Context(), customerId)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, operators)
	}
}

func createOperatorHandler() gin.HandlerFunc {
	type operatorRequest struct {
		CustomerID *int   `json:"customer_id"`
		Name       string `json:"name" binding:"required"`
	}
	return func(c *gin.Context) {
		var req operatorRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondBindError(c, err)
			return
		}
		operator, err := models.CreateOperator(c.Request.Context(), req.CustomerID, req.Name)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, operator)
	}
}

func createChannelHandler() gin.HandlerFunc {
	type channelRequest struct {
		OperatorID int    `json:"operator_id" binding:"required"`
		Name       string `json:"name" binding:"required"`
	}
	return func(c *gin.Context) {
		var req channelRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondBindError(c, err)
			return
		}
		channel, err := models.CreateChannel(c.Request.Context(), req.OperatorID, req.Name)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, channel)
	}
}

func deleteOperatorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := strconv.Atoi(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid operator id"})
			return
		}
		if err := models.DeleteOperator(c.Request.Context(), id); err != nil {
			respondError(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

func listChannelsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		channels, err := models.GetPaymentChannels(c.Request.Context())
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, channels)
	}
}

func listHistoriesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var referenceId *int
		if v := c.Query("reference_id"); v != "" {
			if id, err := strconv.Atoi(v); err == nil {
				referenceId = &id
			}
		}
		var referenceType *string
		if v := c.Query("reference_type"); v != "" {
			referenceType = &v
		}
		var userId *int
		if v := c.Query("user_id"); v != "" {
			if id, err := strconv.Atoi(v); err == nil {
				userId = &id
			}
		}
		histories, err := models.GetHistories(c.Request.Context(), referenceId, referenceType, userId)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, histories)
	}
}

func customerDashboardHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		userId, _ := utils.GetUserIdFromContext(c.Request.Context())
		stats, err := models.GetCustomerStats(c.Request.Context(), userId)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, stats)
	}
}

func customerRecordsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		userId, _ := utils.GetUserIdFromContext(c.Request.Context())
		input := searchRecordsQuery(c)
		// Customers only ever see their own rows.
		input.CustomerID = &userId
		records, total, err := models.SearchRecords(c.Request.Context(), input)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"records": records, "total": total})
	}
}

func customerTargetsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		userId, _ := utils.GetUserIdFromContext(c.Request.Context())
		targets, err := models.GetTargets(c.Request.Context(), userId)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, targets)
	}
}

// customErrorLogger logs only requests that accumulated gin errors.
func customErrorLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		if len(c.Errors) > 0 {
			logger.Error(c.Errors.String())
		}
	}
}

func main() {
	port := os.Getenv("API_PORT")
	if port == "" {
		// Cloud Run standard env var.
		port = os.Getenv("PORT")
	}
	if port == "" {
		port = defaultPort
	}

	logger := config.GetLogger()

	// Cloud Run sends SIGTERM on revision shutdown; handle it for graceful drain.
	sigCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	// Start the HTTP server ASAP so the platform considers the revision
	// healthy. Until the DB is ready, app endpoints return 503.
	r := gin.New()
	// Correlation IDs: generate once per request and attach to context.
	r.Use(func(c *gin.Context) {
		cid := c.GetHeader("x-correlation-id")
		if cid == "" {
			cid = uuid.NewString()
		}
		c.Request = c.Request.WithContext(utils.SetCorrelationIdInContext(c.Request.Context(), cid))
		c.Next()
	})
	r.Use(func(c *gin.Context) {
		// Always allow the startup probe.
		if c.Request.URL.Path == "/healthz" {
			c.Status(http.StatusNoContent)
			c.Abort()
			return
		}
		// Gate app endpoints on dependency readiness.
		if config.GetDB() == nil {
			c.AbortWithStatus(http.StatusServiceUnavailable)
			return
		}
		c.Next()
	})
	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	corsConfig := cors.DefaultConfig()
	// In production, require an explicit allowlist via CORS_ALLOWED_ORIGINS.
	allowedOrigins := strings.TrimSpace(os.Getenv("CORS_ALLOWED_ORIGINS"))
	if strings.EqualFold(strings.TrimSpace(os.Getenv("GO_ENV")), "production") {
		if allowedOrigins == "" {
			corsConfig.AllowOrigins = []string{}
		} else {
			corsConfig.AllowOrigins = splitAndTrim(allowedOrigins)
		}
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AddAllowMethods("GET", "POST", "PUT", "DELETE", "OPTIONS")
	corsConfig.AddAllowHeaders("token", "Origin", "Content-Type", "Authorization")
	corsConfig.AddExposeHeaders("Content-Length")
	corsConfig.AllowCredentials = true
	r.Use(cors.New(corsConfig))

	r.Use(middlewares.AuthMiddleware())
	r.Use(customErrorLogger(logger))
	r.Use(gin.Recovery())

	r.POST("/auth/login", loginHandler())

	admin := r.Group("/admin", middlewares.RequireRole(models.UserRoleAdmin))
	{
		admin.POST("/import", importHandler())

		admin.GET("/customers", listCustomersHandler())
		admin.POST("/customers", createCustomerHandler())
		admin.DELETE("/customers/:id", deleteUserHandler())
		admin.POST("/customers/:id/reset-password", resetPasswordHandler())
		admin.GET("/customers/:id/targets", listTargetsHandler())
		admin.GET("/customers/:id/operators", listOperatorsHandler())

		admin.POST("/targets", createTargetHandler())
		admin.PUT("/targets/:id", updateTargetHandler())
		admin.DELETE("/targets/:id", deleteTargetHandler())

		admin.GET("/records", searchRecordsHandler())
		admin.POST("/records", createRecordHandler())
		admin.PUT("/records/:id/status", updateRecordStatusHandler())
		admin.DELETE("/records/:id", deleteRecordHandler())

		admin.POST("/operators", createOperatorHandler())
		admin.DELETE("/operators/:id", deleteOperatorHandler())

		admin.GET("/channels", listChannelsHandler())
		admin.POST("/channels", createChannelHandler())
		admin.GET("/histories", listHistoriesHandler())
	}

	me := r.Group("/me", middlewares.RequireAuth())
	{
		me.GET("/dashboard", customerDashboardHandler())
		me.GET("/records", customerRecordsHandler())
		me.GET("/targets", customerTargetsHandler())
	}

	srv := &http.Server{
		Addr:    ":" + port,
		Handler: r,
	}
	serverErrCh := make(chan error, 1)
	go func() {
		// ListenAndServe returns http.ErrServerClosed on graceful shutdown.
		serverErrCh <- srv.ListenAndServe()
	}()

	// Connect dependencies after the port is open.
	config.ConnectDatabaseWithRetry()
	config.ConnectRedis()

	db := config.GetDB()
	sqlDB, _ := db.DB()
	defer func() {
		if sqlDB != nil {
			_ = sqlDB.Close()
		}
	}()
	// AutoMigrate can run DDL that locks tables; allow running migrations as
	// a separate job instead.
	if !strings.EqualFold(strings.TrimSpace(os.Getenv("SKIP_MIGRATIONS")), "true") {
		if err := models.AutoMigrate(); err != nil {
			logger.WithFields(logrus.Fields{"field": "migrations"}).Panic(err.Error())
		}
	} else {
		logger.WithFields(logrus.Fields{"field": "migrations"}).Warn("SKIP_MIGRATIONS=true; skipping AutoMigrate on startup")
	}

	logger.WithFields(logrus.Fields{"port": port}).Info("server started")
	log.Println("Server started successfully")

	select {
	case <-sigCtx.Done():
		// graceful shutdown below
	case err := <-serverErrCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithFields(logrus.Fields{"field": "http"}).Error("server stopped unexpectedly: " + err.Error())
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithFields(logrus.Fields{"field": "http"}).Error("graceful shutdown failed: " + err.Error())
	}

	if rdb := config.GetRedisDB(); rdb != nil {
		_ = rdb.Close()
	}
}
