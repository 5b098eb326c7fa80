package main

import (
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"web/beaconscope/governor"
	"web/beaconscope/host"
	"web/beaconscope/scene"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

func formatFileSize(size int64) string {
	const unit = 1024
	if size < unit {
		return fmt.Sprintf("%d B", size)
	}
	div, exp := int64(unit), 0
	for n := size / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(size)/float64(div), "KMGTPE"[exp])
}

func parseFloatQuery(c *gin.Context, name string, def float32) (float32, error) {
	raw := c.Query(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.ParseFloat(raw, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid %s parameter", name)
	}
	return float32(v), nil
}

func main() {
	configPath := flag.String("config", "", "path to yaml config file")
	maxScenes := flag.Int("max-scenes", 4, "max scenes kept resident")
	flag.Parse()

	cfg, err := governor.LoadConfig(*configPath)
	if err != nil {
		fmt.Printf("Config error: %v\n", err)
		os.Exit(1)
	}

	sceneHost, err := host.NewSceneHost(cfg, *maxScenes)
	if err != nil {
		fmt.Printf("Failed to start scene host: %v\n", err)
		os.Exit(1)
	}
	defer sceneHost.Close()

	fmt.Println("Started with empty scene host - waiting for a scene to be created or loaded...")

	r := gin.Default()

	// Enable CORS
	r.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Origin, Content-Type")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	})

	// List available scenes
	r.GET("/api/scenes/list", func(c *gin.Context) {
		scenes, err := sceneHost.ListSavedScenes()
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, scenes)
	})

	// Create new scene
	r.POST("/api/scenes", func(c *gin.Context) {
		var req struct {
			NumEntities int `json:"numEntities"`
		}
		if err := c.BindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
			return
		}
		if req.NumEntities <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "numEntities must be positive"})
			return
		}

		info, err := sceneHost.CreateScene(req.NumEntities)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		fmt.Printf("New scene %s created (%s)\n", info.ID, formatFileSize(info.FileSize))
		c.JSON(http.StatusOK, gin.H{"message": "New scene created", "sceneInfo": info})
	})

	// Load a saved scene into memory
	r.POST("/api/scenes/load/:id", func(c *gin.Context) {
		id := c.Param("id")
		fmt.Printf("Received request to load scene with ID: %s\n", id)

		info, err := sceneHost.LoadScene(id)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "Scene loaded successfully", "sceneInfo": info})
	})

	// Run one frame for the given viewport and return the draw instructions
	r.GET("/api/scenes/:id/frame", func(c *gin.Context) {
		s, err := sceneHost.GetScene(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}

		x, err := parseFloatQuery(c, "x", 0)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		y, err := parseFloatQuery(c, "y", 0)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		zoom, err := parseFloatQuery(c, "scale", 1)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		width, err := parseFloatQuery(c, "width", 1280)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		height, err := parseFloatQuery(c, "height", 720)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		vp := scene.NewViewport(width, height)
		vp.SetTransform(x, y, zoom)
		s.Manager.SetViewport(vp)

		c.JSON(http.StatusOK, s.Manager.RunFrame())
	})

	// Resolve a screen-space tap to a beacon
	r.GET("/api/scenes/:id/hit", func(c *gin.Context) {
		s, err := sceneHost.GetScene(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}

		sx, err := parseFloatQuery(c, "x", 0)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		sy, err := parseFloatQuery(c, "y", 0)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		zoom, err := parseFloatQuery(c, "scale", 1)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		cx, err := parseFloatQuery(c, "centerX", 0)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		cy, err := parseFloatQuery(c, "centerY", 0)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		vp := scene.NewViewport(1280, 720)
		vp.SetTransform(cx, cy, zoom)

		entity, found := s.Beacons.HitTest(vp, sx, sy)
		if !found {
			c.JSON(http.StatusOK, gin.H{"hit": false})
			return
		}
		c.JSON(http.StatusOK, gin.H{"hit": true, "entity": entity})
	})

	// Module status and manual overrides
	r.GET("/api/scenes/:id/modules", func(c *gin.Context) {
		s, err := sceneHost.GetScene(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"modules":   s.Manager.Modules(),
			"emergency": s.Manager.Emergency(),
		})
	})

	r.POST("/api/scenes/:id/modules/:moduleId/enable", func(c *gin.Context) {
		s, err := sceneHost.GetScene(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		if err := s.Manager.SetModuleEnabled(c.Param("moduleId"), true); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "Module enabled"})
	})

	r.POST("/api/scenes/:id/modules/:moduleId/disable", func(c *gin.Context) {
		s, err := sceneHost.GetScene(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		if err := s.Manager.SetModuleEnabled(c.Param("moduleId"), false); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "Module disabled"})
	})

	// Reset the governor to its clean configuration (also leaves emergency)
	r.POST("/api/scenes/:id/reset", func(c *gin.Context) {
		s, err := sceneHost.GetScene(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		s.Manager.Reset()
		c.JSON(http.StatusOK, gin.H{"message": "Governor reset"})
	})

	// Stream governor events over a websocket
	r.GET("/api/scenes/:id/events/ws", func(c *gin.Context) {
		s, err := sceneHost.GetScene(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			fmt.Printf("Websocket upgrade failed: %v\n", err)
			return
		}

		// The bus handler runs on frame goroutines, so the events channel is
		// never closed; disconnects are signaled through done instead.
		events := make(chan governor.Event, 64)
		done := make(chan struct{})
		unsubscribe := s.Manager.Bus().SubscribeAll(func(e governor.Event) {
			select {
			case events <- e:
			case <-done:
			default:
				// Slow consumer drops events rather than stalling frames.
			}
		})

		go func() {
			defer unsubscribe()
			defer conn.Close()
			for {
				select {
				case e := <-events:
					if err := conn.WriteJSON(e); err != nil {
						return
					}
				case <-done:
					return
				}
			}
		}()

		// Reader loop only notices disconnects.
		go func() {
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					close(done)
					return
				}
			}
		}()
	})

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	go func() {
		fmt.Printf("Starting server on %s...\n", cfg.Server.Addr)
		if err := r.Run(cfg.Server.Addr); err != nil {
			fmt.Printf("Server error: %v\n", err)
		}
	}()

	<-quit
	fmt.Println("\nShutting down server...")
	fmt.Println("Server stopped")
}
