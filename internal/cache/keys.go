package cache

import "fmt"

// JobKey 任务详情
func JobKey(jobID string) string {
	return "job:" + jobID
}

// ActiveJobKey 项目当前活跃任务
func ActiveJobKey(projectID string) string {
	return "jobs:active:" + projectID
}

// JobListPrefix 项目所有任务列表分页
func JobListPrefix(projectID string) string {
	return "jobs:list:" + projectID + ":"
}

func JobListKey(projectID, query string) string {
	return JobListPrefix(projectID) + query
}

func ItemsPrefix(jobID string) string {
	return "items:" + jobID + ":"
}

func ItemsKey(jobID, query string) string {
	return ItemsPrefix(jobID) + query
}

func ProjectKey(projectID string) string {
	return fmt.Sprintf("project:%s", projectID)
}
