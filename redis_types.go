package main

// Redis payloads for the motor-server hash
type RedisMotorState struct {
	Direction    string
	Power        int
	Acceleration int
	InMotion     bool
}

type RedisSupply struct {
	BusVoltage float64
	Current    float64
	Power      float64
	AvgVoltage float64
	AvgCurrent float64
}

type RedisConnection struct {
	Channel string
	State   EndpointState
	Session string
}
