package api

// setupRoutes configures all API routes
func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)
	s.router.GET("/ws", s.handleWebSocket)

	v1 := s.router.Group("/api/v1")
	{
		runs := v1.Group("/runs")
		{
			runs.GET("", s.handleListRuns)
			runs.POST("", s.handleTriggerRun)
			runs.GET("/:id", s.handleGetRun)
			runs.GET("/:id/events", s.handleGetRunEvents)
		}

		v1.GET("/metrics", s.handleGetMetrics)

		v1.GET("/approvals", s.handleListApprovals)
		v1.POST("/approvals/:id", s.adminAuth(), s.handleResolveApproval)

		admin := v1.Group("/admin", s.adminAuth())
		{
			admin.GET("/status", s.handleAdminStatus)
			admin.POST("/mode", s.handleSetMode)
			admin.POST("/killswitch", s.handleKillSwitch)
		}
	}
}
