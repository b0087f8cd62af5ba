package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"

	"motor-server/hw"
	"motor-server/monitor"
	"motor-server/motor"
	"motor-server/protocol"
)

const (
	ServerAppRedisTimeout      = 5 * time.Second
	ServerAppRedisHealthPeriod = 30 * time.Second
)

// ServerApp owns every component of the service. Goroutines get the pieces
// they need when they are started; there is no package-level state.
type ServerApp struct {
	log   *LeveledLogger
	opts  *Options
	redis *redis.Client
	ipcTx *IPCTx
	ipcRx *IPCRx
	diag  *Diag

	lines   motor.DriveLines
	edges   monitor.EdgeSource
	sensor  monitor.PowerSensor
	closers []io.Closer

	controller *motor.Controller
	sampler    *monitor.EdgeSampler
	publisher  *monitor.Publisher
	speed      *SpeedReporting
	power      *monitor.PowerMonitor

	commandMessages   *Queue[string]
	telemetryMessages *Queue[string]
	commands          *Queue[protocol.Command]
	acks              *Queue[outbound]
	telemetry         *Queue[outbound]

	commandEP   *Endpoint
	telemetryEP *Endpoint
	ingress     *Ingress
	exec        *ExecutionLoop
	dispatcher  *ResponseDispatcher

	mu     sync.Mutex
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

func NewServerApp(opts *Options) (*ServerApp, error) {
	ctx, cancel := context.WithCancel(context.Background())

	logger := opts.Logger
	if logger == nil {
		logger = log.New(log.Writer(), fmt.Sprintf("%s: ", ProjectName), log.LstdFlags)
	}

	app := &ServerApp{
		log:               NewLeveledLogger(logger, opts.LogLevel),
		opts:              opts,
		ctx:               ctx,
		cancel:            cancel,
		commandMessages:   NewQueue[string](),
		telemetryMessages: NewQueue[string](),
		commands:          NewQueue[protocol.Command](),
		acks:              NewQueue[outbound](),
		telemetry:         NewQueue[outbound](),
	}

	if err := app.setup(); err != nil {
		app.Destroy()
		return nil, err
	}

	app.start()
	return app, nil
}

func (app *ServerApp) setup() error {
	if err := app.setupRedis(); err != nil {
		return err
	}

	app.ipcTx = NewIPCTx(app.log.Component("ipc"), app.redis)
	app.diag = NewDiag(app.log.Component("diag"), app.redis)
	app.writeDefaultRedisState()

	if err := app.setupBackend(); err != nil {
		return err
	}
	app.log.Info("Hardware backend initialized - selected backend: %v", app.opts.Backend)

	app.setupPowerSensor()

	cfg := motor.DefaultConfig()
	cfg.Logger = app.log.Component("motor")
	cfg.Lines = app.lines
	cfg.PinCW = app.opts.PinCW
	cfg.PinCCW = app.opts.PinCCW
	cfg.Acceleration = app.opts.Acceleration
	cfg.QuickChange = app.opts.QuickChange
	cfg.YieldPWM = app.opts.YieldPWM
	if app.opts.StopTimeout > 0 {
		cfg.StopTimeout = app.opts.StopTimeout
	}

	controller, err := motor.NewController(cfg)
	if err != nil {
		return &HardwareError{Component: "drive lines", Err: err}
	}
	app.controller = controller

	speedLog := app.log.Component("speed")
	app.sampler = monitor.NewEdgeSampler(speedLog, controller, nil, 0)
	if err := app.sampler.Register(app.edges, app.opts.PinMagnet); err != nil {
		app.log.Warn("%v", &HardwareError{Component: "magnet detector", Err: err})
		app.diag.SetFaultPresence(FaultEdgeDetector, true)
	}

	sink := &telemetrySink{log: speedLog, out: app.telemetry, mirror: app.ipcTx}
	app.publisher = monitor.NewPublisher(speedLog, app.sampler, sink, app.opts.PublishInterval)

	app.speed = NewSpeedReporting(app.ctx, speedLog, app.sampler, app.publisher)
	app.speed.OnChange = func(enabled bool) {
		if err := app.ipcTx.SendSpeedReporting(enabled); err != nil {
			app.log.Debug("Failed to send speed reporting state: %v", err)
		}
	}

	app.commandEP = NewEndpoint(app.log.Component("command"), "command", app.opts.CommandAddr, app.commandMessages)
	app.telemetryEP = NewEndpoint(app.log.Component("telemetry"), "telemetry", app.opts.TelemetryAddr, app.telemetryMessages)
	app.telemetryEP.OnDisconnect = app.speed.Disable

	for _, ep := range []*Endpoint{app.commandEP, app.telemetryEP} {
		ep := ep
		ep.OnStateChange = func(state EndpointState, session string) {
			if err := app.ipcTx.SendConnection(RedisConnection{Channel: ep.name, State: state, Session: session}); err != nil {
				app.log.Debug("Failed to send connection state: %v", err)
			}
		}
		if err := ep.Listen(); err != nil {
			return err
		}
	}

	app.ingress = NewIngress(app.log.Component("ingress"), app.commandMessages, app.commands, app.acks)

	app.exec = NewExecutionLoop(app.log.Component("exec"), controller, app.speed,
		app.commands, app.acks, app.telemetry, cfg.StopTimeout)
	app.exec.OnState = app.sendMotorState
	app.exec.OnHardwareError = func(err error) {
		app.diag.SetFaultPresence(FaultDriveLines, true)
	}
	app.exec.OnHardwareRecover = func() {
		app.diag.SetFaultPresence(FaultDriveLines, false)
	}

	app.dispatcher = NewResponseDispatcher(app.log.Component("dispatch"), app.acks, app.telemetry,
		app.commandEP, app.telemetryEP, app.ipcTx)

	if app.redis != nil {
		app.ipcRx = NewIPCRx(app.log.Component("ipc"), app.redis, app.commandMessages)
		app.log.Info("IPC RX component initialized")
	}

	return nil
}

func (app *ServerApp) setupRedis() error {
	if app.opts.RedisServerAddr == "" {
		app.log.Info("Redis disabled")
		return nil
	}

	addr := fmt.Sprintf("%s:%d", app.opts.RedisServerAddr, app.opts.RedisServerPort)

	app.redis = redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     "",
		DB:           0,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})

	connectCtx, connectCancel := context.WithTimeout(app.ctx, ServerAppRedisTimeout)
	defer connectCancel()

	app.log.Info("Connecting to Redis at %s...", addr)

	if err := app.redis.Ping(connectCtx).Err(); err != nil {
		return fmt.Errorf("failed to connect to Redis: %w", err)
	}
	app.log.Info("Successfully connected to Redis")

	return nil
}

func (app *ServerApp) setupBackend() error {
	logger := app.log.Component("hw")

	switch app.opts.Backend {
	case BackendGPIO:
		g, err := hw.NewGPIO(logger, app.opts.PinCW, app.opts.PinCCW)
		if err != nil {
			return &HardwareError{Component: "gpio", Err: err}
		}
		app.lines, app.edges = g, g
		app.closers = append(app.closers, g)

	case BackendCAN:
		bridge, err := hw.OpenCANBridge(logger, app.opts.CANDevice, app.opts.CANNode)
		if err != nil {
			return &HardwareError{Component: "can", Err: err}
		}
		app.lines, app.edges, app.sensor = bridge, bridge, bridge
		app.closers = append(app.closers, bridge)

	case BackendSim:
		sim := hw.NewSim(logger, hw.DefaultSimConfig())
		sim.Start(app.ctx)
		app.lines, app.edges, app.sensor = sim, sim, sim
		app.closers = append(app.closers, sim)

	default:
		return fmt.Errorf("unknown backend %v", app.opts.Backend)
	}

	return nil
}

// setupPowerSensor opens the INA219 when configured. A missing sensor is a
// fault, not a reason to refuse to drive the motor.
func (app *ServerApp) setupPowerSensor() {
	if app.opts.PowerSensor {
		ina, err := monitor.OpenINA219(app.opts.I2CDevice, app.opts.I2CAddress,
			app.opts.INA219Calibration, app.opts.INA219CurrentLSB)
		if err != nil {
			app.log.Warn("%v", &HardwareError{Component: "power sensor", Err: err})
			app.diag.SetFaultPresence(FaultPowerSensor, true)
		} else {
			app.sensor = ina
			app.closers = append(app.closers, ina)
			app.log.Info("INA219 power sensor on %s at 0x%02X", app.opts.I2CDevice, app.opts.I2CAddress)
		}
	}

	if app.sensor == nil {
		return
	}

	app.power = monitor.NewPowerMonitor(app.log.Component("power"), app.sensor, app.opts.PowerInterval)
	app.power.OnReading = func(r monitor.PowerReading) {
		supply := RedisSupply{
			BusVoltage: r.BusVoltage,
			Current:    r.Current,
			Power:      r.Power,
			AvgVoltage: r.AvgVoltage,
			AvgCurrent: r.AvgCurrent,
		}
		if err := app.ipcTx.SendSupply(supply); err != nil {
			app.log.Debug("Failed to send supply: %v", err)
		}
	}
	app.power.OnError = func(err error) {
		app.diag.SetFaultPresence(FaultPowerSensor, true)
	}
	app.power.OnRecover = func() {
		app.diag.SetFaultPresence(FaultPowerSensor, false)
	}
}

func (app *ServerApp) start() {
	app.spawn(app.commandEP.Serve)
	app.spawn(app.telemetryEP.Serve)
	app.spawn(app.ingress.Run)
	app.spawn(app.exec.Run)
	app.spawn(app.dispatcher.Run)
	app.spawn(app.drainTelemetryInput)

	if app.power != nil {
		app.power.Start(app.ctx)
	}

	if app.redis != nil {
		app.spawn(app.redisHealthCheck)
	}
}

func (app *ServerApp) spawn(fn func(ctx context.Context)) {
	app.wg.Add(1)
	go func() {
		defer app.wg.Done()
		fn(app.ctx)
	}()
}

// drainTelemetryInput discards whatever a telemetry client sends
func (app *ServerApp) drainTelemetryInput(ctx context.Context) {
	for {
		line, err := app.telemetryMessages.Pop(ctx)
		if err != nil {
			return
		}
		app.log.Debug("Ignoring telemetry channel input: %q", line)
	}
}

func (app *ServerApp) sendMotorState(state motor.MotorState) {
	data := RedisMotorState{
		Direction:    state.Direction.String(),
		Power:        state.LastPower,
		Acceleration: state.Acceleration,
		InMotion:     state.InMotion,
	}
	if err := app.ipcTx.SendMotorState(data); err != nil {
		app.log.Debug("Failed to send motor state: %v", err)
	}
}

// writeDefaultRedisState writes default values to Redis
func (app *ServerApp) writeDefaultRedisState() {
	if app.redis == nil {
		return
	}

	app.sendMotorState(motor.MotorState{Acceleration: app.opts.Acceleration})

	if err := app.ipcTx.SendSpeedReporting(false); err != nil {
		app.log.Warn("Failed to send default speed reporting state: %v", err)
	}

	app.log.Info("Default Redis state written")
}

func (app *ServerApp) redisHealthCheck(ctx context.Context) {
	ticker := time.NewTicker(ServerAppRedisHealthPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
			if err := app.redis.Ping(pingCtx).Err(); err != nil {
				app.log.Warn("Redis health check failed: %v", err)
			}
			cancel()
		}
	}
}

// CommandAddr returns the bound command channel address
func (app *ServerApp) CommandAddr() string {
	return app.commandEP.Addr().String()
}

// TelemetryAddr returns the bound telemetry channel address
func (app *ServerApp) TelemetryAddr() string {
	return app.telemetryEP.Addr().String()
}

func (app *ServerApp) Destroy() {
	app.mu.Lock()
	defer app.mu.Unlock()

	app.log.Info("Shutting down motor server...")

	if app.cancel != nil {
		app.cancel()
	}

	if app.speed != nil {
		app.speed.Disable()
	}

	if app.power != nil {
		app.power.Stop()
	}

	for _, ep := range []*Endpoint{app.commandEP, app.telemetryEP} {
		if ep != nil {
			ep.Close()
		}
	}

	app.wg.Wait()

	for _, ep := range []*Endpoint{app.commandEP, app.telemetryEP} {
		if ep != nil {
			ep.Wait()
		}
	}
	app.log.Info("Service loops stopped")

	if app.ipcRx != nil {
		app.ipcRx.Destroy()
		app.log.Info("IPC RX shutdown complete")
	}

	if app.controller != nil {
		if err := app.controller.Close(); err != nil {
			app.log.Error("Failed to release drive lines: %v", err)
		}
		app.log.Info("Motor controller shutdown complete")
	}

	for i := len(app.closers) - 1; i >= 0; i-- {
		if err := app.closers[i].Close(); err != nil {
			app.log.Warn("Error closing hardware: %v", err)
		}
	}
	app.closers = nil

	if app.diag != nil {
		app.diag.Destroy()
	}

	if app.ipcTx != nil {
		app.ipcTx.Destroy()
	}

	if app.redis != nil {
		if err := app.redis.Close(); err != nil {
			app.log.Error("Error closing Redis connection: %v", err)
		} else {
			app.log.Info("Redis connection closed")
		}
	}

	app.log.Info("Motor server shutdown complete")
}
