// Package task 实现异步任务流水线：Service 负责提交与查询，Processor 从队列消费
// 任务 ID、领取任务并交给编排器执行，按错误码决定重试、降级或最终失败。
//
// 任务状态可保存在内存或 MySQL 中，队列支持进程内 channel、Redis list 与 RabbitMQ。
package task
