package topics

const (
	// Kafka
	LotteryActivity = "lottery_activity"

	// Redis Pub/Sub: um canal por canal do StateStore
	RoundBroadcast        = "lottery_round_broadcast"
	ParticipantsBroadcast = "lottery_participants_broadcast"
	ConfigBroadcast       = "lottery_config_broadcast"
	HistoryBroadcast      = "lottery_history_broadcast"
	ActivityBroadcast     = "lottery_activity_broadcast"
)
