// Package tool 提供工具声明、注册表以及调用记录。
//
// 注册表是显式构造的实例，由调用方注入到每个智能体中；执行循环只通过
// Toolbox 视图访问它。工具失败会被包装为统一错误并写回对话，
// 不会中断执行循环。
package tool
