package main

import (
	_ "github.com/soch-community/sochbot/src/admintools"
	"github.com/soch-community/sochbot/src/bot"
	_ "github.com/soch-community/sochbot/src/discord/cmd"
	_ "github.com/soch-community/sochbot/src/migration"
)

func main() {
	bot.BotCommand.Execute()
}
