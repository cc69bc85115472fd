package main

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"net"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/kataras/iris/v12"
	"github.com/kataras/iris/v12/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"sensor-playback/internal/config"
	"sensor-playback/internal/fetch"
	"sensor-playback/internal/handlers"
	"sensor-playback/internal/playback"
	"sensor-playback/internal/server"
)

//go:embed static/*
var staticFS embed.FS

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		configPath string
		port       int
		debug      bool
		noBrowser  bool
	)

	cmd := &cobra.Command{
		Use:   "sensor-playback",
		Short: "多传感器会话同步回放服务",
		Long:  `按共享时间轴同步回放已录制会话的视频帧、MP3 音频与环境传感器数据；SESSION_ID 为 -1 时只提供直播计时。`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("port") {
				cfg.Server.Port = port
			}
			if cmd.Flags().Changed("debug") {
				cfg.Server.Debug = debug
			}
			if cmd.Flags().Changed("no-browser") {
				cfg.Server.NoBrowser = noBrowser
			}
			return run(cfg)
		},
		SilenceUsage: true,
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Config file (default ./config.yaml)")
	cmd.Flags().IntVarP(&port, "port", "p", config.DefaultPort, "Server port")
	cmd.Flags().BoolVar(&debug, "debug", false, "Enable debug logging")
	cmd.Flags().BoolVar(&noBrowser, "no-browser", false, "Don't open browser automatically")
	return cmd
}

func run(cfg *config.Config) error {
	// 设置日志级别
	if cfg.Server.Debug {
		playback.SetDebugMode(true)
	}

	// 查找可用端口
	actualPort := findAvailablePort(cfg.Server.Port)

	fmt.Println("============================================================")
	fmt.Println("传感器会话回放")
	fmt.Println("============================================================")
	if cfg.HasSession() {
		fmt.Printf("会话: %d (%d 个传感器)\n", cfg.Session.ID, len(cfg.Session.Sensors))
		fmt.Printf("录像后端: %s\n", cfg.Backend.BaseURL)
	} else {
		fmt.Println("会话: 无 (直播计时)")
	}
	fmt.Printf("监听地址: http://localhost:%d\n", actualPort)
	fmt.Println("============================================================")

	// 指标
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	playback.RegisterMetrics(reg)
	fetch.RegisterMetrics(reg)
	server.RegisterMetrics(reg)

	// 回放服务
	client := fetch.NewClient(cfg.Backend)
	srv, err := server.NewPlaybackServer(cfg, client)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go srv.Run(ctx)

	// 创建 Iris 应用
	app := iris.New()
	app.Logger().SetLevel("warn")

	// CORS
	app.UseRouter(func(ctx iris.Context) {
		ctx.Header("Access-Control-Allow-Origin", "*")
		ctx.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		ctx.Header("Access-Control-Allow-Headers", "Content-Type")
		if ctx.Method() == "OPTIONS" {
			ctx.StatusCode(204)
			return
		}
		ctx.Next()
	})

	// 注册 API 路由
	server.RegisterRoutes(app, server.NewHandlers(srv))

	// 控制通道
	var clock handlers.Controller
	if srv.HasSession() {
		clock = srv.Clock()
	}
	control := handlers.NewControlHandler(clock)
	ws := websocket.New(websocket.DefaultGorillaUpgrader, control.RegisterEvents())
	app.Get("/api/v1/control", websocket.Handler(ws))

	app.Get("/metrics", iris.FromStd(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))

	// 嵌入的静态文件
	staticSub, err := fs.Sub(staticFS, "static")
	if err != nil {
		fmt.Printf("警告: 无法加载嵌入的静态文件: %v\n", err)
	} else {
		app.HandleDir("/", http.FS(staticSub), iris.DirOptions{
			IndexName: "index.html",
			SPA:       true,
		})
		fmt.Println("静态文件: 嵌入模式")
	}

	// 优雅关闭
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
		<-ch
		fmt.Println("\n正在关闭...")
		cancel()

		shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
		defer done()
		app.Shutdown(shutdownCtx)
	}()

	// 自动打开浏览器
	if !cfg.Server.NoBrowser {
		go func() {
			time.Sleep(500 * time.Millisecond)
			openBrowser(fmt.Sprintf("http://localhost:%d", actualPort))
		}()
	}

	// 启动服务器
	fmt.Printf("\n服务器已启动: http://localhost:%d\n", actualPort)
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, actualPort)
	if err := app.Listen(addr, iris.WithoutServerError(iris.ErrServerClosed)); err != nil {
		return fmt.Errorf("服务器错误: %w", err)
	}
	return nil
}

// findAvailablePort 查找可用端口，如果指定端口被占用则递增
func findAvailablePort(startPort int) int {
	for port := startPort; port < startPort+100; port++ {
		ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
		if err == nil {
			ln.Close()
			return port
		}
	}
	return startPort // 回退到原始端口
}

// openBrowser 打开默认浏览器
func openBrowser(url string) {
	var err error
	switch runtime.GOOS {
	case "darwin":
		err = exec.Command("open", url).Start()
	case "linux":
		err = exec.Command("xdg-open", url).Start()
	case "windows":
		err = exec.Command("rundll32", "url.dll,FileProtocolHandler", url).Start()
	}
	if err != nil {
		fmt.Printf("无法自动打开浏览器，请手动访问: %s\n", url)
	}
}
