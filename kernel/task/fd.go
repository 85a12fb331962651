package task

import (
	"minos/fs"
	"minos/kernel"
)

// File returns the open file behind a descriptor of the current task.
func File(fd int) *fs.File {
	if fd < 0 || fd >= kernel.TaskOFileNR {
		return nil
	}
	return taskManager.currTask.fileTable[fd]
}

// AllocFd binds a file to the lowest free descriptor of the current task.
func AllocFd(file *fs.File) int {
	t := taskManager.currTask

	for i := 0; i < kernel.TaskOFileNR; i++ {
		if t.fileTable[i] == nil {
			t.fileTable[i] = file
			return i
		}
	}

	return -1
}

// RemoveFd releases a descriptor of the current task.
func RemoveFd(fd int) {
	if fd >= 0 && fd < kernel.TaskOFileNR {
		taskManager.currTask.fileTable[fd] = nil
	}
}
