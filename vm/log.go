package vm

import "github.com/tliron/commonlog"

var (
	log          = commonlog.GetLogger("marl.vm")
	memoryLog    = commonlog.GetLogger("marl.vm.memory")
	schedulerLog = commonlog.GetLogger("marl.vm.scheduler")
)
